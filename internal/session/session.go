package session

import (
	"errors"
	"sync"
	"time"

	"github.com/pontocerto/checkout/internal/cart"
	"github.com/pontocerto/checkout/internal/fees"
	"github.com/pontocerto/checkout/internal/money"
	"github.com/pontocerto/checkout/internal/tender"
)

// ErrNotSettleable is returned when finalize is attempted before payments
// cover the charge total.
var ErrNotSettleable = errors.New("sale not settleable")

// ErrEmptyCart is returned when finalize is attempted on an empty cart.
var ErrEmptyCart = errors.New("cart is empty")

// Session is one open checkout at a register. It owns the cart, the tender
// ledger and the fee schedule snapshot. Every operation takes the session
// mutex so reads of remaining/paid never interleave with a mutation.
type Session struct {
	ID string

	mu        sync.Mutex
	cart      *cart.Cart
	ledger    *tender.Ledger
	schedule  fees.Schedule
	createdAt time.Time
	expiresAt time.Time
}

func newSession(id string, schedule fees.Schedule, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        id,
		cart:      cart.New(),
		ledger:    tender.NewLedger(schedule),
		schedule:  schedule,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// AddItem rings up a product and recomputes the order total.
func (s *Session) AddItem(productID string, unitPrice money.Amount, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cart.AddOrIncrement(productID, unitPrice, qty); err != nil {
		return err
	}
	s.ledger.SetOrderTotal(s.cart.Subtotal())
	return nil
}

// ChangeQuantity adjusts a line by delta and recomputes the order total.
// Unknown product ids are ignored, mirroring the register's silent update
// path.
func (s *Session) ChangeQuantity(productID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.ChangeQuantity(productID, delta)
	s.ledger.SetOrderTotal(s.cart.Subtotal())
}

// RemoveItem voids a line regardless of quantity and recomputes the order
// total. Unknown product ids are ignored.
func (s *Session) RemoveItem(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Remove(productID)
	s.ledger.SetOrderTotal(s.cart.Subtotal())
}

// ClearCart empties the cart, keeping confirmed payments untouched.
func (s *Session) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
	s.ledger.SetOrderTotal(0)
}

// SelectMethod chooses the tender method for the outstanding balance.
func (s *Session) SelectMethod(method tender.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.SelectMethod(method)
}

// SelectInstallments sets the credit installment count.
func (s *Session) SelectInstallments(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.SelectInstallments(n)
}

// QuoteRemaining returns the prefill quote for the selected method.
func (s *Session) QuoteRemaining() tender.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.QuoteRemaining()
}

// ConfirmPayment records a partial payment.
func (s *Session) ConfirmPayment(method tender.Method, amount money.Amount) (tender.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.ConfirmPayment(method, amount)
}

// ComputeChange previews the change due for a cash payment of the given
// amount.
func (s *Session) ComputeChange(cashAmount money.Amount) money.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.ComputeChange(cashAmount)
}

// Reset clears the ledger and the cart, returning the session to its opening
// state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.Reset()
	s.cart.Clear()
	s.ledger.SetOrderTotal(0)
}

// RefreshSchedule swaps in a new fee schedule snapshot.
func (s *Session) RefreshSchedule(schedule fees.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
	s.ledger.SetFeeResolver(schedule)
}

// Schedule returns the fee snapshot the session is using.
func (s *Session) Schedule() fees.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Finalize validates that the sale can close and returns the closing
// snapshot. The registry removes the session afterwards.
func (s *Session) Finalize() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart.IsEmpty() {
		return Snapshot{}, ErrEmptyCart
	}
	if !s.ledger.IsSettleable() {
		return Snapshot{}, ErrNotSettleable
	}
	return s.snapshotLocked(), nil
}

// Snapshot returns a consistent view of the session for rendering.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Snapshot is a point-in-time view of a checkout session.
type Snapshot struct {
	ID             string
	Lines          []cart.Line
	Subtotal       money.Amount
	ChargeTotal    money.Amount
	PaidTotal      money.Amount
	Remaining      money.Amount
	Change         money.Amount
	Method         tender.Method
	MethodSelected bool
	Installments   int
	State          tender.State
	Settleable     bool
	Payments       []tender.Entry
}

func (s *Session) snapshotLocked() Snapshot {
	method, selected := s.ledger.SelectedMethod()
	paid := s.ledger.PaidTotal()
	chargeTotal := s.ledger.ChargeTotal()
	change := paid - chargeTotal
	if change < 0 {
		change = 0
	}
	return Snapshot{
		ID:             s.ID,
		Lines:          s.cart.Lines(),
		Subtotal:       s.cart.Subtotal(),
		ChargeTotal:    chargeTotal,
		PaidTotal:      paid,
		Remaining:      s.ledger.Remaining(),
		Change:         change,
		Method:         method,
		MethodSelected: selected,
		Installments:   s.ledger.Installments(),
		State:          s.ledger.State(),
		Settleable:     s.ledger.IsSettleable(),
		Payments:       s.ledger.Entries(),
	}
}
