package rpcmqtt

import "errors"

var (
	// ErrUnknownPeer is logged for MQTT messages naming no added link.
	ErrUnknownPeer = errors.New("rpcmqtt: unknown peer")

	// ErrDuplicatePeer is returned by Add for a second link with the same name.
	ErrDuplicatePeer = errors.New("rpcmqtt: duplicate peer")

	// ErrNoReply is the message of the error sent to a peer whose request
	// was not answered in time.
	ErrNoReply = errors.New("rpcmqtt: no reply before timeout")

	// ErrQueueFull is counted when the outbound publish queue overflows.
	ErrQueueFull = errors.New("rpcmqtt: publish queue full")

	// ErrInvalidMessage wraps JSON decoding failures of MQTT payloads.
	ErrInvalidMessage = errors.New("rpcmqtt: invalid message")

	// ErrAlreadyStarted is returned by Start on a running bridge.
	ErrAlreadyStarted = errors.New("rpcmqtt: already started")
)
