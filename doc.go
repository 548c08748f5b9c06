// Package vmstore persists view models in a networked document store with
// optimistic concurrency control.
//
// A view model is an identified record of attributes. Every stored document
// carries a version token that is replaced on each write; updates and
// deletes only succeed when the stored token still equals the one the view
// model was loaded with. A lost race surfaces as ErrConcurrency and the
// caller reloads and retries.
//
// # Quick Start
//
//	cfg, _ := vmstore.LoadConfig("vmstore.yaml")
//	conn := vmstore.NewConn(*cfg, mongo.NewDriver(),
//	    vmstore.WithLogger(vmstore.NewTextLogger(slog.LevelInfo)))
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	defer conn.Disconnect(ctx)
//
//	users := vmstore.NewStore(conn, "users")
//
//	vm, _ := users.Get(ctx, "")   // fresh id, ActionNone
//	_ = vm.Set("email", "ada@example.com")
//	vm.SetAction(vmstore.ActionCreate)
//	if err := users.Commit(ctx, vm); err != nil { ... }
//
//	_ = vm.Set("name", "Ada")     // vm now has ActionUpdate
//	switch err := users.Commit(ctx, vm); {
//	case errors.Is(err, vmstore.ErrConcurrency):
//	    // someone else wrote first: reload and retry
//	}
//
// # Connections
//
// A Conn owns one link shared by every Store created on it, together with
// the registry of bound collections used by ClearAll. With a heartbeat
// interval configured, a watchdog probes the link every interval and closes
// it when a probe fails or does not answer within interval/2. Conn never
// reconnects by itself; observers registered with Subscribe see the
// StateDisconnected event (carrying ErrLinkFailure) and decide. Observers
// run after the Conn has released its locks, so they may call Connect or
// Disconnect directly.
//
// # Backends
//
// Backends implement the docstore interfaces:
//
//   - docstore/mongo: MongoDB via the official driver
//   - docstore/dynamodb: Amazon DynamoDB, one table per collection
//   - docstore/memory: in-process, for tests
package vmstore
