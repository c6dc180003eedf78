// Package stream implements the real-time fan-out broker that delivers
// device events to connected viewers.
//
// # Architecture
//
//	                ┌──────────────────────────────┐
//	  Router ──────▶│            Broker            │
//	  (publish)     │  rooms: map[deviceID]*room   │
//	                │  live:  presence set         │
//	                └──────┬───────────┬───────────┘
//	                       │           │
//	                ┌──────▼─────┐ ┌───▼────────┐
//	                │ room: dev-1│ │ room: dev-2│
//	                │  snapshot  │ │  snapshot  │
//	                │  subs{}    │ │  subs{}    │
//	                └──────┬─────┘ └────────────┘
//	                       │
//	            Subscriber.Send (in publish order)
//
// Each device has one room holding its subscribers and a retained
// Snapshot: the latest progress sample, latest status, a short
// most-recent-first error history, and the current infusion context.
// Publishing an event first folds it into the snapshot, then delivers
// it to every subscriber — both under the room mutex, so any subscriber
// observes events in exactly the publish order, and a subscriber joining
// mid-stream replays a snapshot equivalent to having seen everything
// published so far.
//
// Snapshots update even with zero subscribers; a viewer connecting hours
// later still sees the device's last known state immediately.
//
// # Usage
//
//	broker := stream.NewBroker(registryAdapter, cache)
//	broker.SetLogger(logger)
//
//	// Router side:
//	broker.Publish("pump-1", stream.EventProgress, sample)
//
//	// Viewer side:
//	if err := broker.Subscribe(ctx, conn, "pump-1"); err != nil { ... }
//	defer broker.UnsubscribeAll(conn)
//
// # Delivery Semantics
//
// Send errors are terminal: the subscriber is removed from the room and
// must resubscribe, which gives it a fresh snapshot replay covering
// whatever it missed. There is no per-subscriber buffering or retry.
//
// Notification replay on subscribe is served from the notification
// cache; if the cache is unreachable the subscription still succeeds
// without the notification backlog.
package stream
