// Package notifcache provides the TTL-bound notification cache for
// PumpLink Core.
//
// When a pump reports an error, the derived notification is fanned out to
// live viewers immediately — but a viewer who opens the pump's screen a
// minute later would otherwise see nothing. The cache bridges that gap:
// notifications are stored for a fixed window (5 minutes by default) and
// replayed to each new subscriber on join. After the window they expire
// silently; the cache is not durable storage and holds nothing an audit
// would rely on.
//
// # Stores
//
// Two Store implementations exist. RedisStore uses SET with expiry, SCAN
// for prefix listing, and RPUSH+EXPIRE for lists; it is selected when
// cache.enabled is set in configuration. MemoryStore keeps the same TTL
// semantics in process memory with a janitor goroutine sweeping expired
// entries, for single-node deployments and tests.
//
// # Usage
//
//	store, err := notifcache.NewRedisStore(ctx, cfg.Cache)
//	if err != nil {
//	    return err
//	}
//	cache := notifcache.NewCache(store, 5*time.Minute)
//
//	cache.StoreNotification(ctx, notifcache.Notification{
//	    ID:       uuid.New().String(),
//	    Type:     "deviceError",
//	    Priority: notifcache.PriorityCritical,
//	    Title:    "Occlusion detected",
//	    DeviceID: "PUMP_0001",
//	})
//
//	recent, _ := cache.RecentNotifications(ctx, "PUMP_0001")
package notifcache
