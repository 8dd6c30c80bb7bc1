// Package observability wires OpenTelemetry tracing and metrics for the
// discovery cache.
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability, "catalogwatch", version.Version, "production")
//	defer shutdown(ctx)
//
// Metrics recorded by the discovery package:
//
//	catalogwatch.watch.updates          responses that advanced a cursor
//	catalogwatch.watch.errors           failed blocking queries
//	catalogwatch.session.restarts       staleness-triggered restarts
//	catalogwatch.session.active         running per-service sessions
//	catalogwatch.registration.attempts  register/deregister attempts by outcome
//
// Register, deregister and reconcile passes are traced as spans.
package observability
