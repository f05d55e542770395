// Package rpcmqtt relays JSON-RPC peer links onto MQTT.
//
// Per peer, below the configured topic prefix:
//
//	<peer>/status            retained StatusMessage on every connection change
//	<peer>/notify/<method>   params of each notification the peer sends
//	<peer>/request           RequestMessage for each peer request with an id
//	<peer>/reply             ReplyMessage answering a request (subscribed)
//	<peer>/call              CallMessage to forward to the peer (subscribed)
//	<peer>/result            ResultMessage with the outcome of a call
//
// A peer request that gets no reply within the request timeout is answered
// with a server error. Calls without ref are sent as notifications and
// produce no result.
//
// All link and engine access happens on the reactor goroutine. MQTT
// handlers hop over with reactor.Post; publishing runs on a worker
// goroutine so a slow broker never stalls the reactor.
package rpcmqtt
