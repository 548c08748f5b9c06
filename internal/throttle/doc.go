// Package throttle bounds the load vmstore puts on the shared store link.
//
// A Controller limits three things:
//
//   - in-flight operations: a weighted semaphore, blocking until a slot frees
//   - operations per second: a token bucket
//   - background jobs (index provisioning): a second semaphore
//
// Usage:
//
//	tc := throttle.NewController(throttle.Config{
//	    MaxInFlight:  64,
//	    OpsPerSecond: 500,
//	})
//
//	release, err := tc.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// All methods handle a nil Controller gracefully - they become no-ops.
package throttle
