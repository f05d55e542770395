package rpcmqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bridged/internal/jsonrpc"
)

// StatusMessage is published retained on <peer>/status. CallTopic and
// ReplyTopic tell consumers where to send calls and request replies.
type StatusMessage struct {
	Peer       string `json:"peer"`
	Connected  bool   `json:"connected"`
	Error      string `json:"error,omitempty"`
	CallTopic  string `json:"call_topic"`
	ReplyTopic string `json:"reply_topic"`
	Timestamp  string `json:"timestamp"`
}

// RequestMessage carries a peer request to MQTT. Token identifies it in
// the matching ReplyMessage.
type RequestMessage struct {
	Token  string          `json:"token"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ReplyMessage answers a RequestMessage. Exactly one of Result and Error
// should be set; neither means a null result.
type ReplyMessage struct {
	Token  string          `json:"token"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

// CallMessage asks the bridge to call a peer method. An empty Ref sends a
// notification.
type CallMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Ref    string          `json:"ref,omitempty"`
}

// ResultMessage reports the outcome of a CallMessage with Ref.
type ResultMessage struct {
	Ref    string          `json:"ref"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

func newStatusMessage(topics mqtt.Topics, peer string, connected bool, err error, now time.Time) StatusMessage {
	m := StatusMessage{
		Peer:       peer,
		Connected:  connected,
		CallTopic:  topics.PeerCall(peer),
		ReplyTopic: topics.PeerReply(peer),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// topicSafe replaces characters that would change the meaning of a topic.
func topicSafe(method string) string {
	if method == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, method)
}

// rawOrNil keeps absent JSON values absent when handed to the engine.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
