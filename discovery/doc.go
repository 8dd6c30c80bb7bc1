// Package discovery keeps a local, continuously updated view of the services
// registered in a coordination service, and registers the local process
// into it.
//
// # Read path
//
// A Reconciler runs one long-poll WatchSession against the catalog and one
// per catalog service against its health view. Every health response is
// classified into Nodes (Classify) and replaces the service's Cache entry;
// catalog responses add and remove per-service sessions. A StalenessMonitor
// restarts sessions that have been silent for longer than a threshold.
// Watcher bundles the three and serves reads through Client:
//
//	w := discovery.NewWatcher(provider, cfg.Watch, cfg.Staleness)
//	if err := w.Start(ctx); err != nil { ... }
//	defer w.Shutdown(ctx)
//
//	node, err := w.PickOne("orders", discovery.StrategyRoundRobin)
//
// Reads never block on the coordination service; they return what the
// cache holds.
//
// # Write path
//
// RegistrationManager registers the local service on startup and
// deregisters it on shutdown, retrying with a fixed delay up to a
// configurable budget and reporting every outcome as a RegistrationEvent.
//
// # Backends
//
//   - discovery/consul: HashiCorp Consul agent over HTTP
//   - discovery/static: in-memory catalog with blocking-query semantics,
//     for development and tests
//
// Component ties both paths to the process lifecycle and picks the backend
// through RegisterProviderFactory; import a backend package for its side
// effect to make it available.
package discovery
