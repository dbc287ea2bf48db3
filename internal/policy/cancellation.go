package policy

import "time"

// ConsumerCancelWindow is how long before pickup a consumer may still cancel on their own.
// Closer than this, the consumer has to contact the merchant.
const ConsumerCancelWindow = 2 * time.Hour

// Clock returns the trusted server time.
type Clock func() time.Time

// SystemClock reads the server clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// CanConsumerCancel reports whether a consumer-initiated cancellation is still allowed.
// now must come from the server clock, never from the caller's device.
func CanConsumerCancel(now, pickupTime time.Time) bool {
	return pickupTime.Sub(now) >= ConsumerCancelWindow
}
