// Package process supervises a single external server process that is not our child.
//
// The server is launched detached from the supervisor's session, writes its own PID file, and
// accepts connections on a ping target (TCP address or unix socket). The package offers:
//
// Supervisor orchestrates the lifecycle:
//   - Idempotent Start: the config artifact is materialized, a live PID that also answers on
//     the ping target yields AlreadyRunningError instead of a second spawn
//   - Readiness polling of the ping target bounded by the start timeout
//   - Graceful Stop with SIGTERM, escalating to SIGKILL after the stop timeout
//   - Hot Reload: rewrite the artifact in place and deliver SIGHUP, fire-and-forget
//   - WaitUntilExited: a cancellable connection-holding poll, since exit cannot be reaped
//
// Handle reads the PID file and delivers signals; Probe performs one connection attempt.
//
// Start, Stop and Reload share one mutex, so a reload triggered by a directory change never
// interleaves with an explicit stop.
//
// Example usage:
//
//	sup, err := process.New(cfg, &process.Options{
//	    Materializer: writer,
//	    Targets:      targets,
//	    OnPhaseChange: func(id string, old, new process.Phase, elapsed time.Duration, err error) {
//	        log.Printf("%s: %s -> %s", id, old, new)
//	    },
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop(context.Background())
//	sup.WaitUntilExited(ctx)
package process
