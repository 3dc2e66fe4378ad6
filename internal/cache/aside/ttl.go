package aside

import "time"

// TTLs resolves the time-to-live of a cache namespace.
type TTLs struct {
	Default   time.Duration
	Overrides map[string]time.Duration
}

// For returns the override for namespace, else fallback, else Default.
func (t TTLs) For(namespace string, fallback time.Duration) time.Duration {
	if d, ok := t.Overrides[namespace]; ok && d > 0 {
		return d
	}
	if fallback > 0 {
		return fallback
	}
	return t.Default
}
