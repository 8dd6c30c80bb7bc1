// Package resilience provides retry helpers for calls against remote
// services.
//
//   - Retry / RetryFunc: bounded or unbounded retry with fixed or
//     exponential delay between attempts
//   - Backoff: the delay calculation on its own, for loops that manage
//     their own attempts (e.g. long-poll watchers)
//
//	cfg := resilience.FixedDelay(resilience.Unlimited, 5*time.Second)
//	err := resilience.RetryFunc(ctx, cfg, func() error {
//	    return agent.Register(ctx, svc)
//	})
package resilience
