package tender

import (
	"errors"
	"fmt"

	"github.com/pontocerto/checkout/internal/money"
)

// ErrInvalidAmount is returned when a payment is confirmed with a
// non-positive amount.
var ErrInvalidAmount = errors.New("invalid payment amount")

// ErrInvalidInstallments is returned when selecting an installment count the
// register does not support.
var ErrInvalidInstallments = errors.New("invalid installment count")

// MaxCreditInstallments is the largest installment count offered at the
// register.
const MaxCreditInstallments = 2

// State describes how far along a tender is.
type State string

const (
	StateEmpty          State = "empty"
	StateMethodSelected State = "method_selected"
	StatePartiallyPaid  State = "partially_paid"
	StateFullySettled   State = "fully_settled"
)

// FeeResolver supplies the pass-through surcharge applicable to an amount
// charged on a method.
type FeeResolver interface {
	Surcharge(method Method, base money.Amount) money.Amount
}

// NoFees is a FeeResolver that never applies a surcharge.
type NoFees struct{}

// Surcharge always returns zero.
func (NoFees) Surcharge(Method, money.Amount) money.Amount { return 0 }

// Entry is a confirmed partial payment.
type Entry struct {
	Method Method
	Amount money.Amount
}

// Quote is the amount suggested for the currently selected method. For credit
// in two installments both the undivided total and the per-installment value
// are reported.
type Quote struct {
	Total          money.Amount
	Installments   int
	PerInstallment money.Amount
}

// Ledger accumulates confirmed partial payments against the order total and
// decides when the sale may be finalized. It is not safe for concurrent use;
// the owning session serializes access.
type Ledger struct {
	fees         FeeResolver
	orderTotal   money.Amount
	entries      []Entry
	selected     Method
	hasMethod    bool
	installments int
}

// NewLedger returns an empty ledger using the provided fee resolver.
func NewLedger(fees FeeResolver) *Ledger {
	if fees == nil {
		fees = NoFees{}
	}
	return &Ledger{fees: fees, installments: 1}
}

// SetFeeResolver swaps the fee snapshot, e.g. after an explicit refresh.
func (l *Ledger) SetFeeResolver(fees FeeResolver) {
	if fees == nil {
		fees = NoFees{}
	}
	l.fees = fees
}

// SetOrderTotal records the current cart subtotal. Called on every cart
// mutation so remaining balances always track the cart.
func (l *Ledger) SetOrderTotal(total money.Amount) {
	if total < 0 {
		total = 0
	}
	l.orderTotal = total
}

// OrderTotal returns the recorded cart subtotal.
func (l *Ledger) OrderTotal() money.Amount {
	return l.orderTotal
}

// SelectMethod chooses the tender method for the outstanding balance.
// Confirmed partial payments survive a method switch: the cashier splitting a
// sale across cash and card must not lose the cash already taken. Selecting a
// non-credit method resets the installment count.
func (l *Ledger) SelectMethod(method Method) {
	if !method.Valid() {
		return
	}
	if l.hasMethod && l.selected == method {
		return
	}
	l.selected = method
	l.hasMethod = true
	if method != Credit {
		l.installments = 1
	}
}

// SelectInstallments sets the credit installment count (1 or 2).
func (l *Ledger) SelectInstallments(n int) error {
	if n < 1 || n > MaxCreditInstallments {
		return fmt.Errorf("%d: %w", n, ErrInvalidInstallments)
	}
	l.installments = n
	return nil
}

// SelectedMethod returns the chosen method, if any.
func (l *Ledger) SelectedMethod() (Method, bool) {
	return l.selected, l.hasMethod
}

// Installments returns the selected installment count.
func (l *Ledger) Installments() int {
	if l.installments < 1 {
		return 1
	}
	return l.installments
}

// ChargeTotal is the amount owed when settling on the currently selected
// method: the order total plus any pass-through surcharge.
func (l *Ledger) ChargeTotal() money.Amount {
	if !l.hasMethod {
		return l.orderTotal
	}
	return l.chargeTotalFor(l.selected)
}

func (l *Ledger) chargeTotalFor(method Method) money.Amount {
	return l.orderTotal + l.fees.Surcharge(method, l.orderTotal)
}

// PaidTotal sums all confirmed payments.
func (l *Ledger) PaidTotal() money.Amount {
	var total money.Amount
	for _, e := range l.entries {
		total += e.Amount
	}
	return total
}

// Remaining is the outstanding balance against the selected method's charge
// total, never negative.
func (l *Ledger) Remaining() money.Amount {
	return l.remainingFor(l.selected)
}

func (l *Ledger) remainingFor(method Method) money.Amount {
	remaining := l.chargeTotalFor(method) - l.PaidTotal()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuoteRemaining suggests the payment amount the register should prefill for
// the selected method. Credit in two installments reports both the undivided
// remaining and the half, rounded up on the first installment.
func (l *Ledger) QuoteRemaining() Quote {
	remaining := l.Remaining()
	q := Quote{Total: remaining, Installments: 1, PerInstallment: remaining}
	if l.hasMethod && l.selected == Credit && l.installments == 2 {
		q.Installments = 2
		q.PerInstallment = money.HalveUp(remaining)
	}
	return q
}

// ConfirmPayment records a partial payment. Amounts must be positive. For any
// method except cash the amount is silently clamped to the remaining balance
// so a card or PIX tender can never overpay; cash may exceed the balance and
// the excess becomes change. A second confirmation for the same method
// replaces the earlier entry instead of summing, letting the cashier correct
// a typed amount without double-counting.
func (l *Ledger) ConfirmPayment(method Method, amount money.Amount) (Entry, error) {
	if !method.Valid() {
		return Entry{}, fmt.Errorf("%q: %w", method, ErrUnknownMethod)
	}
	if amount <= 0 {
		return Entry{}, fmt.Errorf("%s: %w", money.Format(amount), ErrInvalidAmount)
	}
	if method != Cash {
		// Replacement frees the slot the old entry occupied, so the clamp
		// must ignore it when computing what is still owed.
		remaining := l.chargeTotalFor(method) - l.paidTotalExcluding(method)
		if remaining < 0 {
			remaining = 0
		}
		if amount > remaining {
			amount = remaining
		}
		// Nothing owed on this method: recording a zero entry would break
		// the positive-amount invariant, so the confirmation is a no-op.
		if amount == 0 {
			return Entry{Method: method}, nil
		}
	}
	entry := Entry{Method: method, Amount: amount}
	for i, existing := range l.entries {
		if existing.Method == method {
			l.entries[i] = entry
			return entry, nil
		}
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *Ledger) paidTotalExcluding(method Method) money.Amount {
	var total money.Amount
	for _, e := range l.entries {
		if e.Method != method {
			total += e.Amount
		}
	}
	return total
}

// ComputeChange returns the change due for a cash payment of the given
// amount, zero when underpaid. Underpayment is not an error; the caller
// blocks finalize while Remaining is positive.
func (l *Ledger) ComputeChange(cashAmount money.Amount) money.Amount {
	change := cashAmount - l.chargeTotalFor(Cash)
	if change < 0 {
		return 0
	}
	return change
}

// IsSettleable reports whether confirmed payments fully cover the selected
// method's charge total.
func (l *Ledger) IsSettleable() bool {
	return l.Remaining() == 0
}

// Entries returns a copy of the confirmed payments in confirmation order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset clears payments and method selection, returning to the empty state.
func (l *Ledger) Reset() {
	l.entries = nil
	l.selected = ""
	l.hasMethod = false
	l.installments = 1
}

// State reports where the tender stands.
func (l *Ledger) State() State {
	switch {
	case !l.hasMethod && len(l.entries) == 0:
		return StateEmpty
	case len(l.entries) == 0:
		return StateMethodSelected
	case l.Remaining() > 0:
		return StatePartiallyPaid
	default:
		return StateFullySettled
	}
}
