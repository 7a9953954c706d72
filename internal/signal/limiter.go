package signal

import "time"

// messageLimiter is a token bucket over inbound messages for one connection.
// Capacity equals the per-second rate, so a burst of up to one second's
// allowance is tolerated.
type messageLimiter struct {
	capacity float64
	tokens   float64
	rate     float64
	last     time.Time
}

func newMessageLimiter(perSecond int) *messageLimiter {
	r := float64(perSecond)
	return &messageLimiter{capacity: r, tokens: r, rate: r}
}

func (l *messageLimiter) allow(now time.Time) bool {
	if !l.last.IsZero() {
		elapsed := now.Sub(l.last).Seconds()
		if elapsed > 0 {
			l.tokens += elapsed * l.rate
			if l.tokens > l.capacity {
				l.tokens = l.capacity
			}
		}
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
