package rpcmqtt

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bridged/internal/jsonrpc"
	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
	"github.com/nerrad567/gray-logic-bridged/internal/transport"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeMQTT records publishes and lets tests inject messages.
type fakeMQTT struct {
	mu       sync.Mutex
	subs     map[string]mqtt.MessageHandler
	messages []published
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{subs: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return true }

// inject delivers a message as if it arrived from the broker on subscription sub.
func (f *fakeMQTT) inject(t *testing.T, sub, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.subs[sub]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", sub)
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func (f *fakeMQTT) find(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.topic == topic {
			return m, true
		}
	}
	return published{}, false
}

type fixture struct {
	r      *reactor.Reactor
	clock  *reactor.FakeClock
	client *fakeMQTT
	bridge *Bridge
	link   *link.Link
	peer   net.Conn
	reader *bufio.Reader
	topics mqtt.Topics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	clock := reactor.NewFakeClock(0)
	r, err := reactor.New(reactor.WithClock(clock), reactor.WithCycleInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })

	l := link.New(r, link.Config{
		Name:     "amp",
		Endpoint: transport.Endpoint{Path: "127.0.0.1", Port: port},
	}, nil)

	client := newFakeMQTT()
	topics := mqtt.Topics{Prefix: "bridged"}
	b := New(Options{
		Reactor:        r,
		MQTT:           client,
		Topics:         topics,
		RequestTimeout: 5 * time.Second,
	})
	if err := b.Add(l); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	l.Start()
	t.Cleanup(l.Stop)
	peer, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	return &fixture{
		r:      r,
		clock:  clock,
		client: client,
		bridge: b,
		link:   l,
		peer:   peer,
		reader: bufio.NewReader(peer),
		topics: topics,
	}
}

func (f *fixture) cycleUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		if err := f.r.RunCycle(); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}
}

func (f *fixture) waitPublished(t *testing.T, topic string) published {
	t.Helper()
	var msg published
	f.cycleUntil(t, func() bool {
		var ok bool
		msg, ok = f.client.find(topic)
		return ok
	})
	return msg
}

func (f *fixture) readPeer(t *testing.T) map[string]any {
	t.Helper()
	f.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := f.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading from bridge: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("line %q is not JSON: %v", line, err)
	}
	return msg
}

func TestBridge_PublishesStatusAndNotifications(t *testing.T) {
	f := newFixture(t)

	status := f.waitPublished(t, f.topics.PeerStatus("amp"))
	if !status.retained {
		t.Error("status not retained")
	}
	var sm StatusMessage
	if err := json.Unmarshal([]byte(status.payload), &sm); err != nil {
		t.Fatalf("status payload %q: %v", status.payload, err)
	}
	if sm.Peer != "amp" {
		t.Errorf("status peer = %q, want amp", sm.Peer)
	}
	if sm.CallTopic != "bridged/amp/call" || sm.ReplyTopic != "bridged/amp/reply" {
		t.Errorf("status topics = %q, %q", sm.CallTopic, sm.ReplyTopic)
	}

	f.peer.Write([]byte(`{"jsonrpc":"2.0","method":"volume/changed","params":{"level":7}}` + "\n"))
	msg := f.waitPublished(t, f.topics.PeerNotify("amp", "volume_changed"))
	if msg.payload != `{"level":7}` {
		t.Errorf("notify payload = %s", msg.payload)
	}
}

func TestBridge_CallForwardedAndResultPublished(t *testing.T) {
	f := newFixture(t)

	f.client.inject(t, f.topics.AllPeerCalls(), f.topics.PeerCall("amp"),
		`{"method":"mute","params":[true],"ref":"r1"}`)
	f.cycleUntil(t, func() bool { return f.link.Engine().Pending() == 1 })

	req := f.readPeer(t)
	if req["method"] != "mute" || req["id"] != float64(1) {
		t.Fatalf("peer got %v", req)
	}

	f.peer.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":1}` + "\n"))
	msg := f.waitPublished(t, f.topics.PeerResult("amp"))

	var res ResultMessage
	if err := json.Unmarshal([]byte(msg.payload), &res); err != nil {
		t.Fatalf("result payload %q: %v", msg.payload, err)
	}
	if res.Ref != "r1" || string(res.Result) != `"ok"` || res.Error != nil {
		t.Errorf("result = %+v", res)
	}
	if got := f.bridge.Stats().CallsForwarded; got != 1 {
		t.Errorf("CallsForwarded = %d, want 1", got)
	}
}

func TestBridge_CallWithoutRefIsNotification(t *testing.T) {
	f := newFixture(t)

	f.client.inject(t, f.topics.AllPeerCalls(), f.topics.PeerCall("amp"), `{"method":"beep"}`)
	f.cycleUntil(t, func() bool { return f.bridge.Stats().CallsForwarded == 1 })

	msg := f.readPeer(t)
	if msg["method"] != "beep" {
		t.Errorf("peer got %v", msg)
	}
	if _, hasID := msg["id"]; hasID {
		t.Errorf("notification carries id: %v", msg)
	}
	if f.link.Engine().Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.link.Engine().Pending())
	}
}

func TestBridge_PeerRequestRepliedOverMQTT(t *testing.T) {
	f := newFixture(t)

	f.peer.Write([]byte(`{"jsonrpc":"2.0","method":"lookup","params":{"k":"a"},"id":"q-9"}` + "\n"))
	msg := f.waitPublished(t, f.topics.PeerRequest("amp"))

	var req RequestMessage
	if err := json.Unmarshal([]byte(msg.payload), &req); err != nil {
		t.Fatalf("request payload %q: %v", msg.payload, err)
	}
	if req.Method != "lookup" || req.Token == "" {
		t.Fatalf("request = %+v", req)
	}

	f.client.inject(t, f.topics.AllPeerReplies(), f.topics.PeerReply("amp"),
		`{"token":"`+req.Token+`","result":42}`)
	f.cycleUntil(t, func() bool { return f.bridge.Stats().RepliesDelivered == 1 })

	resp := f.readPeer(t)
	if resp["result"] != float64(42) || resp["id"] != "q-9" {
		t.Errorf("peer got %v", resp)
	}

	// A second reply with the same token has nothing left to answer.
	f.client.inject(t, f.topics.AllPeerReplies(), f.topics.PeerReply("amp"),
		`{"token":"`+req.Token+`","result":43}`)
	f.cycleUntil(t, func() bool { return f.bridge.Stats().StaleReplies == 1 })
	if f.r.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", f.r.PendingTimers())
	}
}

func TestBridge_PeerRequestTimesOut(t *testing.T) {
	f := newFixture(t)

	f.peer.Write([]byte(`{"jsonrpc":"2.0","method":"lookup","id":3}` + "\n"))
	f.waitPublished(t, f.topics.PeerRequest("amp"))

	f.clock.Advance(5 * time.Second)
	f.cycleUntil(t, func() bool { return f.bridge.Stats().RequestTimeouts == 1 })

	resp := f.readPeer(t)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("peer got %v, want error", resp)
	}
	if errObj["code"] != float64(jsonrpc.CodeServerError) || resp["id"] != float64(3) {
		t.Errorf("peer got %v", resp)
	}
	if !strings.Contains(errObj["message"].(string), "no reply") {
		t.Errorf("message = %v", errObj["message"])
	}
}

func TestBridge_DisconnectDropsReplyTimeouts(t *testing.T) {
	f := newFixture(t)

	f.peer.Write([]byte(`{"jsonrpc":"2.0","method":"lookup","id":1}` + "\n"))
	f.peer.Write([]byte(`{"jsonrpc":"2.0","method":"lookup","id":2}` + "\n"))
	f.cycleUntil(t, func() bool { return f.bridge.Stats().RequestsRelayed == 2 })
	if f.r.PendingTimers() != 2 {
		t.Fatalf("PendingTimers() = %d, want 2 reply timeouts", f.r.PendingTimers())
	}

	f.peer.Close()
	f.cycleUntil(t, func() bool { return !f.link.Connected() })

	// Only the link's reconnect timer is left.
	if f.r.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", f.r.PendingTimers())
	}
	if n := len(f.bridge.peers["amp"].waiting); n != 0 {
		t.Errorf("waiting = %d, want 0", n)
	}

	f.clock.Advance(5 * time.Second)
	for i := 0; i < 3; i++ {
		if err := f.r.RunCycle(); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}
	if got := f.bridge.Stats().RequestTimeouts; got != 0 {
		t.Errorf("RequestTimeouts = %d after disconnect, want 0", got)
	}
}

func TestBridge_DuplicatePeerRejected(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	defer r.Close()

	b := New(Options{Reactor: r, MQTT: newFakeMQTT()})
	cfg := link.Config{Name: "amp", Endpoint: transport.Endpoint{Path: "127.0.0.1", Port: 1}}
	if err := b.Add(link.New(r, cfg, nil)); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	if err := b.Add(link.New(r, cfg, nil)); err == nil {
		t.Error("second Add() succeeded, want ErrDuplicatePeer")
	}
}

func TestTopicSafe(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"volume.changed", "volume.changed"},
		{"a/b", "a_b"},
		{"x+#", "x__"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := topicSafe(tt.in); got != tt.want {
				t.Errorf("topicSafe(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
