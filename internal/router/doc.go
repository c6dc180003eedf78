// Package router consumes inbound device telemetry and drives the rest
// of the system from it.
//
// # Architecture
//
//	pumplink/telemetry/+/+ (QoS 1)
//	          │
//	          ▼
//	┌───────────────────┐   per-device mutex
//	│      Router       │──────────────────────┐
//	└───┬───────────────┘                      │
//	    │ progress ──▶ broker + metrics        │
//	    │ error ─────▶ cache + broker + metrics│
//	    │ status ────▶ registry + presence     │
//	    │ confirmation ─▶ lifecycle ─▶ broker  │
//	    │ completion ───▶ lifecycle ─▶ broker  │
//	    │ action ───────▶ lifecycle ─▶ broker  │
//	    └──────────────────────────────────────┘
//
// The router is deliberately forgiving about input and strict about
// ordering. Anything unroutable — malformed topic, unknown category,
// unknown device, undecodable payload — is logged and dropped; a
// misbehaving pump cannot take the service down. Messages for one
// device are handled strictly one at a time, so a confirmation is never
// overtaken by the completion that follows it; different devices do not
// contend.
//
// Durable-store failures inside a handler are logged and the in-memory
// snapshot is still updated and streamed. Viewers keep seeing live data
// even when the database is briefly unhappy.
//
// # Usage
//
//	rt := router.New(registry, machine, broker, cache, metrics)
//	rt.SetLogger(logger)
//	if err := rt.Start(mqttClient); err != nil { ... }
package router
