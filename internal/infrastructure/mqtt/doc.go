// Package mqtt provides MQTT broker connectivity for bridged.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained flags
//   - Subscriptions that survive reconnects
//   - Last Will and Testament (LWT) so subscribers notice a crashed daemon
//
// # Architecture
//
// bridged relays JSON-RPC peers onto the broker. Every peer gets its own
// topic subtree below the configured prefix; see Topics for the layout.
//
//	JSON-RPC peer ↔ bridged ↔ MQTT broker ↔ consumers
//
// Handlers run on paho goroutines, never on the reactor goroutine. Code
// that touches reactor-owned state must hop over with reactor.Post.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllPeerCalls(), 1,
//	    func(topic string, payload []byte) error {
//	        peer, kind, _ := topics.Parse(topic)
//	        log.Printf("%s %s: %s", peer, kind, payload)
//	        return nil
//	    })
package mqtt
