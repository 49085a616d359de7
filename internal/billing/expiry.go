package billing

import "time"

// ComputeExpiry prefers the renewal instant, then the termination instant.
// A nil result means the stored expiry should be left as is.
func ComputeExpiry(ev InboundEvent) *time.Time {
	if ev.RenewsAt != nil {
		return ev.RenewsAt
	}
	return ev.EndsAt
}
