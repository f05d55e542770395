package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "bridged"

// SystemSegment is the reserved first segment for daemon-wide topics.
// No peer may use it as its name.
const SystemSegment = "system"

// Per-peer topic kinds, the segment after the peer name.
const (
	KindStatus  = "status"
	KindNotify  = "notify"
	KindRequest = "request"
	KindReply   = "reply"
	KindCall    = "call"
	KindResult  = "result"
)

// Topics builds the topic names of one bridged instance.
//
// Layout below Prefix:
//
//	system/status            daemon online/offline (retained, LWT)
//	<peer>/status            peer connection state (retained)
//	<peer>/notify/<method>   notifications sent by the peer
//	<peer>/request           requests sent by the peer, awaiting a reply
//	<peer>/reply             replies to those requests (subscribed)
//	<peer>/call              calls to forward to the peer (subscribed)
//	<peer>/result            outcomes of forwarded calls
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the daemon status topic.
//
// Example: bridged/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/%s/status", t.prefix(), SystemSegment)
}

// PeerStatus returns the retained connection state topic of a peer.
//
// Example: bridged/amp/status
func (t Topics) PeerStatus(peer string) string {
	return t.peerTopic(peer, KindStatus)
}

// PeerNotify returns the topic a peer notification is republished on.
//
// Example: bridged/amp/notify/volume.changed
func (t Topics) PeerNotify(peer, method string) string {
	return t.peerTopic(peer, KindNotify) + "/" + method
}

// PeerRequest returns the topic on which requests from a peer appear.
func (t Topics) PeerRequest(peer string) string {
	return t.peerTopic(peer, KindRequest)
}

// PeerReply returns the topic consumers answer peer requests on.
func (t Topics) PeerReply(peer string) string {
	return t.peerTopic(peer, KindReply)
}

// PeerCall returns the topic consumers publish calls for a peer on.
func (t Topics) PeerCall(peer string) string {
	return t.peerTopic(peer, KindCall)
}

// PeerResult returns the topic call outcomes are published on.
func (t Topics) PeerResult(peer string) string {
	return t.peerTopic(peer, KindResult)
}

// AllPeerCalls matches the call topic of every peer.
func (t Topics) AllPeerCalls() string {
	return t.prefix() + "/+/" + KindCall
}

// AllPeerReplies matches the reply topic of every peer.
func (t Topics) AllPeerReplies() string {
	return t.prefix() + "/+/" + KindReply
}

// Parse splits a per-peer topic into peer name and kind. For notify topics
// the method suffix is dropped. ok is false for topics outside the prefix
// and for system topics.
func (t Topics) Parse(topic string) (peer, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[0] == SystemSegment {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (t Topics) peerTopic(peer, kind string) string {
	return t.prefix() + "/" + peer + "/" + kind
}
