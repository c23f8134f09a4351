package pivot

import "time"

// TimeoutPolicy decides how long to wait for a pivot query. Aggregation cost scales roughly
// linearly with the number of periods queried, and Ceiling bounds how long a query may hold
// resources on both client and server.
type TimeoutPolicy struct {
	Base      time.Duration
	PerPeriod time.Duration
	Ceiling   time.Duration
}

var DefaultTimeoutPolicy = TimeoutPolicy{
	Base:      60 * time.Second,
	PerPeriod: 30 * time.Second,
	Ceiling:   300 * time.Second,
}

// Timeout returns min(Base + periodCount*PerPeriod, Ceiling). Negative counts are treated as 0.
func (policy TimeoutPolicy) Timeout(periodCount int) time.Duration {
	periodCount = max(periodCount, 0)
	if policy.PerPeriod > 0 && policy.Base < policy.Ceiling &&
		periodCount > int((policy.Ceiling-policy.Base)/policy.PerPeriod) {
		// Past this point the ceiling applies anyway, and the multiplication could overflow.
		return policy.Ceiling
	}
	return min(policy.Base+time.Duration(periodCount)*policy.PerPeriod, policy.Ceiling)
}

func QueryTimeout(periodCount int) time.Duration {
	return DefaultTimeoutPolicy.Timeout(periodCount)
}
