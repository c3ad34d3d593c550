// Package domain contains core business types and interfaces.
//
// This file defines the monthly AI request allowance for free profiles.
package domain

// QuotaUsage represents current usage against the monthly AI allowance.
type QuotaUsage struct {
	Used        int64
	Limit       int64
	IsUnlimited bool
}

// Remaining returns how many requests are left, -1 when unlimited.
func (u QuotaUsage) Remaining() int64 {
	if u.IsUnlimited {
		return -1
	}
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Exceeded reports whether the allowance is used up.
func (u QuotaUsage) Exceeded() bool {
	return !u.IsUnlimited && u.Used >= u.Limit
}

// QuotaExceeded creates the upgrade error returned when a free profile
// has used its monthly allowance.
func QuotaExceeded(op string, limit int64) *Error {
	return Errorf(EUPGRADE, op,
		"You have used all %d free AI requests this month. Upgrade to keep learning.", limit)
}
