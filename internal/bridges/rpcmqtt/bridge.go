package rpcmqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bridged/internal/jsonrpc"
	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
)

const (
	// DefaultRequestTimeout bounds how long a peer request waits for a reply.
	DefaultRequestTimeout = 10 * time.Second

	defaultQueueSize = 256
)

// MQTTClient is the broker dependency. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Reactor *reactor.Reactor
	MQTT    MQTTClient
	Topics  mqtt.Topics

	// QoS for publishes and subscriptions.
	QoS byte

	// RequestTimeout for peer requests. Default: 10s.
	RequestTimeout time.Duration

	// QueueSize is the outbound publish buffer. Default: 256.
	QueueSize int

	Logger Logger
}

// Stats holds bridge counters.
type Stats struct {
	Published        uint64
	PublishFailures  uint64
	Dropped          uint64
	CallsForwarded   uint64
	RequestsRelayed  uint64
	RepliesDelivered uint64
	RequestTimeouts  uint64
	StaleReplies     uint64
	InvalidMessages  uint64
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// peer is the per-link state, owned by the reactor goroutine.
type peer struct {
	link    *link.Link
	owner   reactor.Owner             // owns the reply timeout timers
	waiting map[string]reactor.Handle // reply token -> timeout timer
}

// Bridge relays links to MQTT.
//
// Thread Safety:
//   - Add, Start and Stop must be called on the reactor goroutine (or
//     before the reactor runs).
//   - Stats is safe from any goroutine.
type Bridge struct {
	r       *reactor.Reactor
	client  MQTTClient
	topics  mqtt.Topics
	qos     byte
	timeout time.Duration
	logger  Logger
	now     func() time.Time

	peers     map[string]*peer
	nextToken uint64
	started   bool

	out      chan outbound
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	published       atomic.Uint64
	publishFailures atomic.Uint64
	dropped         atomic.Uint64

	// Reactor-goroutine counters, read through Post-free snapshots in Stats.
	callsForwarded   atomic.Uint64
	requestsRelayed  atomic.Uint64
	repliesDelivered atomic.Uint64
	requestTimeouts  atomic.Uint64
	staleReplies     atomic.Uint64
	invalidMessages  atomic.Uint64
}

// New creates a bridge. Links are added with Add before Start.
func New(opts Options) *Bridge {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Bridge{
		r:       opts.Reactor,
		client:  opts.MQTT,
		topics:  opts.Topics,
		qos:     opts.QoS,
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
		now:     time.Now,
		peers:   make(map[string]*peer),
		out:     make(chan outbound, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Add relays l. It takes over the engine's fallback request handler, so
// methods registered with Engine.Handle stay local to the daemon.
func (b *Bridge) Add(l *link.Link) error {
	name := l.Name()
	if _, exists := b.peers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, name)
	}
	p := &peer{link: l, owner: b.r.NewOwner(), waiting: make(map[string]reactor.Handle)}
	b.peers[name] = p

	l.OnStatus(func(s link.Status) { b.peerStatus(p, s) })
	l.Engine().SetRequestHandler(func(method string, id *jsonrpc.ID, params json.RawMessage) {
		b.peerMessage(p, method, id, params)
	})
	return nil
}

// Start launches the publish worker, subscribes to calls and replies and
// publishes the current status of every peer.
func (b *Bridge) Start() error {
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	b.wg.Add(1)
	go b.publishLoop()

	for _, topic := range []string{b.topics.AllPeerCalls(), b.topics.AllPeerReplies()} {
		if err := b.client.Subscribe(topic, b.qos, b.receive); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	for name, p := range b.peers {
		b.publishStatus(name, p.link.Connected(), nil)
	}
	b.logger.Info("MQTT relay started", "peers", len(b.peers))
	return nil
}

// Stop unsubscribes, cancels reply timers and drains the publish queue.
// It blocks until queued messages have been handed to the client.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if !b.started {
			return
		}
		for _, topic := range []string{b.topics.AllPeerCalls(), b.topics.AllPeerReplies()} {
			if err := b.client.Unsubscribe(topic); err != nil {
				b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		for _, p := range b.peers {
			b.cancelWaiting(p)
		}
		close(b.done)
		b.wg.Wait()
		b.logger.Info("MQTT relay stopped")
	})
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published:        b.published.Load(),
		PublishFailures:  b.publishFailures.Load(),
		Dropped:          b.dropped.Load(),
		CallsForwarded:   b.callsForwarded.Load(),
		RequestsRelayed:  b.requestsRelayed.Load(),
		RepliesDelivered: b.repliesDelivered.Load(),
		RequestTimeouts:  b.requestTimeouts.Load(),
		StaleReplies:     b.staleReplies.Load(),
		InvalidMessages:  b.invalidMessages.Load(),
	}
}

// receive runs on paho goroutines.
func (b *Bridge) receive(topic string, payload []byte) error {
	name, kind, ok := b.topics.Parse(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidMessage, topic)
	}
	data := append([]byte(nil), payload...)
	b.r.Post(func() { b.dispatch(name, kind, data) })
	return nil
}

func (b *Bridge) dispatch(name, kind string, payload []byte) {
	p, ok := b.peers[name]
	if !ok {
		b.logger.Debug("MQTT message for unknown peer", "peer", name, "kind", kind, "error", ErrUnknownPeer)
		return
	}

	switch kind {
	case mqtt.KindCall:
		b.handleCall(name, p, payload)
	case mqtt.KindReply:
		b.handleReply(name, p, payload)
	}
}

func (b *Bridge) handleCall(name string, p *peer, payload []byte) {
	var call CallMessage
	if err := json.Unmarshal(payload, &call); err != nil || call.Method == "" {
		b.invalidMessages.Add(1)
		b.logger.Warn("invalid call message", "peer", name, "error", errors.Join(ErrInvalidMessage, err))
		if call.Ref != "" {
			b.publishResult(name, ResultMessage{
				Ref:   call.Ref,
				Error: jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "invalid call message"),
			})
		}
		return
	}

	engine := p.link.Engine()
	if call.Ref == "" {
		if err := engine.SendNotification(call.Method, rawOrNil(call.Params)); err != nil {
			b.logger.Warn("forwarding notification failed", "peer", name, "method", call.Method, "error", err)
			return
		}
		b.callsForwarded.Add(1)
		return
	}

	ref := call.Ref
	_, err := engine.SendRequest(call.Method, rawOrNil(call.Params), func(_ uint64, result json.RawMessage, err error) {
		b.publishResult(name, resultFor(ref, result, err))
	})
	if err != nil {
		b.publishResult(name, resultFor(ref, nil, err))
		return
	}
	b.callsForwarded.Add(1)
}

func resultFor(ref string, result json.RawMessage, err error) ResultMessage {
	if err == nil {
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return ResultMessage{Ref: ref, Result: result}
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return ResultMessage{Ref: ref, Error: rpcErr}
	}
	return ResultMessage{Ref: ref, Error: jsonrpc.NewError(jsonrpc.CodeServerError, err.Error())}
}

// peerMessage handles requests and notifications the peer sends.
func (b *Bridge) peerMessage(p *peer, method string, id *jsonrpc.ID, params json.RawMessage) {
	name := p.link.Name()

	if id == nil {
		payload := []byte(params)
		if len(payload) == 0 {
			payload = []byte("null")
		}
		b.enqueue(b.topics.PeerNotify(name, topicSafe(method)), payload, false)
		return
	}

	b.nextToken++
	token := strconv.FormatUint(b.nextToken, 10)
	engine := p.link.Engine()
	engine.Aliases().Set(token, string(*id))

	p.waiting[token] = b.r.RunOnceAfterFor(p.owner, b.timeout, func(int64) {
		delete(p.waiting, token)
		raw, ok := engine.Aliases().Take(token)
		if !ok {
			return
		}
		b.requestTimeouts.Add(1)
		reqID := jsonrpc.ID(raw)
		if err := engine.SendError(&reqID, jsonrpc.CodeServerError, ErrNoReply.Error(), nil); err != nil {
			b.logger.Debug("sending timeout error failed", "peer", name, "error", err)
		}
		b.logger.Warn("peer request timed out", "peer", name, "method", method, "timeout", b.timeout.String())
	})

	msg, err := json.Marshal(RequestMessage{Token: token, Method: method, Params: params})
	if err != nil {
		b.logger.Error("encoding peer request failed", "peer", name, "error", err)
		return
	}
	b.requestsRelayed.Add(1)
	b.enqueue(b.topics.PeerRequest(name), msg, false)
}

func (b *Bridge) handleReply(name string, p *peer, payload []byte) {
	var reply ReplyMessage
	if err := json.Unmarshal(payload, &reply); err != nil || reply.Token == "" {
		b.invalidMessages.Add(1)
		b.logger.Warn("invalid reply message", "peer", name, "error", errors.Join(ErrInvalidMessage, err))
		return
	}

	engine := p.link.Engine()
	raw, ok := engine.Aliases().Take(reply.Token)
	if !ok {
		// Timed out, already answered, or the connection was reset.
		b.staleReplies.Add(1)
		b.logger.Debug("stale reply dropped", "peer", name, "token", reply.Token)
		return
	}
	if h, ok := p.waiting[reply.Token]; ok {
		b.r.CancelTimer(h)
		delete(p.waiting, reply.Token)
	}

	id := jsonrpc.ID(raw)
	var err error
	if reply.Error != nil {
		err = engine.SendError(&id, reply.Error.Code, reply.Error.Message, rawOrNil(reply.Error.Data))
	} else {
		err = engine.SendResult(id, rawOrNil(reply.Result))
	}
	if err != nil {
		b.logger.Warn("delivering reply failed", "peer", name, "error", err)
		return
	}
	b.repliesDelivered.Add(1)
}

func (b *Bridge) peerStatus(p *peer, s link.Status) {
	if !s.Connected {
		// The engine cleared its aliases; pending timers have nothing to answer.
		b.cancelWaiting(p)
	}
	if b.started {
		b.publishStatus(s.Peer, s.Connected, s.Err)
	}
}

func (b *Bridge) cancelWaiting(p *peer) {
	b.r.CancelTimers(p.owner)
	clear(p.waiting)
}

func (b *Bridge) publishStatus(name string, connected bool, err error) {
	payload, mErr := json.Marshal(newStatusMessage(b.topics, name, connected, err, b.now()))
	if mErr != nil {
		return
	}
	b.enqueue(b.topics.PeerStatus(name), payload, true)
}

func (b *Bridge) publishResult(name string, res ResultMessage) {
	payload, err := json.Marshal(res)
	if err != nil {
		b.logger.Error("encoding call result failed", "peer", name, "error", err)
		return
	}
	b.enqueue(b.topics.PeerResult(name), payload, false)
}

// enqueue never blocks; a full queue drops the message.
func (b *Bridge) enqueue(topic string, payload []byte, retained bool) {
	select {
	case b.out <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("dropping MQTT message", "topic", topic, "error", ErrQueueFull)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.out:
			b.publish(msg)
		case <-b.done:
			for {
				select {
				case msg := <-b.out:
					b.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(msg outbound) {
	if err := b.client.Publish(msg.topic, msg.payload, b.qos, msg.retained); err != nil {
		b.publishFailures.Add(1)
		b.logger.Warn("MQTT publish failed", "topic", msg.topic, "error", err)
		return
	}
	b.published.Add(1)
}
