// Package governance provides failure isolation for scanner adapters:
// a per-scanner circuit breaker that short-circuits calls to a degraded
// scanner instead of letting it slow every request.
package governance
