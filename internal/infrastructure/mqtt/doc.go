// Package mqtt provides MQTT client connectivity for PumpLink Core.
//
// This package manages:
//   - Connection to the broker with bounded linear-backoff reconnection
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// PumpLink uses MQTT as the transport between the Core service and
// infusion pumps on the ward network. The broker decouples Core from the
// individual devices.
//
//	PumpLink Core ↔ MQTT Broker ↔ Infusion Pumps
//
// Reconnection is deliberately bounded. Attempt i waits
// reconnect.initial_delay * i seconds, up to reconnect.max_attempts
// attempts. After that the client enters a terminal lost state, surfaces
// ErrConnectionLost, and fires the OnConnectionLost callback exactly once
// so the rest of the system can mark devices degraded. Infinite silent
// retries are the wrong behaviour when undelivered commands concern
// running infusions.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all pump telemetry
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish command
//	topic := mqtt.Topics{}.DeviceCommand("pump-icu-07")
//	client.Publish(topic, []byte(`{"command":"stop_infusion"}`), 1, false)
package mqtt
