package fees

import (
	"github.com/pontocerto/checkout/internal/money"
	"github.com/pontocerto/checkout/internal/tender"
)

// Schedule is an immutable snapshot of the merchant's pass-through fee
// configuration. Rates are stored in basis points (3.5% = 350). A session
// takes one snapshot at open and only swaps it on an explicit refresh, never
// mid-recalculation.
type Schedule struct {
	Rates              map[tender.Method]int64
	PassThroughEnabled bool
}

// Rate returns the configured rate in basis points for a method, or zero.
func (s Schedule) Rate(method tender.Method) int64 {
	if s.Rates == nil {
		return 0
	}
	return s.Rates[method]
}

// Surcharge computes the pass-through fee added to base when charging it on
// the given method, rounded half-up at centavo precision. Only card methods
// ever carry a fee: cash and PIX are exempt regardless of what the schedule
// says.
func (s Schedule) Surcharge(method tender.Method, base money.Amount) money.Amount {
	if !s.PassThroughEnabled {
		return 0
	}
	if method != tender.Credit && method != tender.Debit {
		return 0
	}
	rate := s.Rate(method)
	if rate <= 0 || base <= 0 {
		return 0
	}
	return money.MulBps(base, rate)
}
