// Package sync reconciles the local store with the remote backend.
//
// Overview
//
// The engine owns three flows:
//
//	Local write ──► PushToServer ──► remote Upsert      (configured, direct)
//	                       └───────► sync_queue          (offline / queue policy)
//
//	SyncAll:  sync_queue ──drain──► remote   (phase 1, push)
//	          remote ──fetch──► BulkUpsert   (phase 2, pull, per collection)
//
// Every state change is published to subscribers as an immutable State value.
//
// Usage
//
//	st, _ := store.Open(".specsync/local.db")
//	backend, _ := remote.Open(remote.Config{URL: url, Key: key})
//
//	engine := sync.New(st, backend, sync.Config{Logger: logger})
//	unsubscribe := engine.Subscribe(func(s sync.State) {
//	    fmt.Println(s.Status, s.PendingChanges)
//	})
//	defer unsubscribe()
//
//	engine.StartAutoSync(ctx, time.Minute, "tenant-a")
//	defer engine.StopAutoSync()
//
// Queue Drain
//
// Pending items are pushed strictly one at a time, oldest first. A failed
// item keeps its place: its retry count goes up and the error is recorded.
// Once an item has failed MaxRetries times, the next failure hands it to the
// RetryPolicy (dead-letter or drop). Per-item remote failures never fail the
// cycle; store failures and context cancellation do.
//
// Pull
//
// Each tracked collection is fetched in full and written with BulkUpsert.
// There is no cursor and no merge: the remote copy wins at record granularity.
// A local edit made while a pull is in flight can be overwritten.
//
// Concurrency
//
// At most one cycle (SyncAll, ForcePull or ForcePush) runs at a time; an
// overlapping call returns immediately. Listeners are invoked synchronously
// on the goroutine that changed the state.
package sync
