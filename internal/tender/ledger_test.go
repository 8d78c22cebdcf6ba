package tender_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pontocerto/checkout/internal/fees"
	"github.com/pontocerto/checkout/internal/tender"
)

func passThrough() fees.Schedule {
	return fees.Schedule{
		PassThroughEnabled: true,
		Rates: map[tender.Method]int64{
			tender.Credit: 350,
			tender.Debit:  199,
		},
	}
}

func TestChargeTotalWithSurcharge(t *testing.T) {
	l := tender.NewLedger(passThrough())
	l.SetOrderTotal(2550)

	require.Equal(t, int64(2550), l.ChargeTotal(), "no method selected yet")

	l.SelectMethod(tender.Credit)
	require.Equal(t, int64(2639), l.ChargeTotal())
	require.Equal(t, int64(2639), l.Remaining())

	l.SelectMethod(tender.PIX)
	require.Equal(t, int64(2550), l.ChargeTotal(), "pix is exempt")
}

func TestStateTransitions(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(1000)

	require.Equal(t, tender.StateEmpty, l.State())

	l.SelectMethod(tender.Debit)
	require.Equal(t, tender.StateMethodSelected, l.State())

	_, err := l.ConfirmPayment(tender.Debit, 400)
	require.NoError(t, err)
	require.Equal(t, tender.StatePartiallyPaid, l.State())

	_, err = l.ConfirmPayment(tender.Cash, 600)
	require.NoError(t, err)
	require.Equal(t, tender.StateFullySettled, l.State())
	require.True(t, l.IsSettleable())
}

func TestConfirmPaymentReplacesSameMethod(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(5000)
	l.SelectMethod(tender.Debit)

	_, err := l.ConfirmPayment(tender.Debit, 2000)
	require.NoError(t, err)

	// The cashier retypes the amount; the new entry replaces the old one.
	entry, err := l.ConfirmPayment(tender.Debit, 3000)
	require.NoError(t, err)
	require.Equal(t, int64(3000), entry.Amount)
	require.Equal(t, int64(3000), l.PaidTotal())
	require.Len(t, l.Entries(), 1)
}

func TestConfirmPaymentClampsNonCash(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(2550)
	l.SelectMethod(tender.PIX)

	entry, err := l.ConfirmPayment(tender.PIX, 9999)
	require.NoError(t, err)
	require.Equal(t, int64(2550), entry.Amount, "pix clamps to the balance")
	require.True(t, l.IsSettleable())
}

func TestClampIgnoresReplacedEntry(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(5000)
	l.SelectMethod(tender.Debit)

	_, err := l.ConfirmPayment(tender.Debit, 2000)
	require.NoError(t, err)

	// Replacing the 20.00 entry with 60.00 must clamp against the full
	// balance, not balance minus the entry being replaced.
	entry, err := l.ConfirmPayment(tender.Debit, 6000)
	require.NoError(t, err)
	require.Equal(t, int64(5000), entry.Amount)
}

func TestConfirmPaymentSkipsWhenNothingOwed(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(2550)
	l.SelectMethod(tender.PIX)

	_, err := l.ConfirmPayment(tender.PIX, 2550)
	require.NoError(t, err)
	require.True(t, l.IsSettleable())

	// A further non-cash confirmation clamps to zero and must not add a
	// zero-amount entry.
	entry, err := l.ConfirmPayment(tender.Debit, 500)
	require.NoError(t, err)
	require.Zero(t, entry.Amount)
	require.Len(t, l.Entries(), 1)
	for _, e := range l.Entries() {
		require.Positive(t, e.Amount)
	}
}

func TestCashMayOverpay(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(725)
	l.SelectMethod(tender.Cash)

	entry, err := l.ConfirmPayment(tender.Cash, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), entry.Amount)
	require.True(t, l.IsSettleable())
	require.Equal(t, int64(275), l.ComputeChange(1000))
	require.Zero(t, l.ComputeChange(500), "underpayment is not negative change")
}

func TestMixedTenderSurvivesMethodSwitch(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(10000)

	l.SelectMethod(tender.Cash)
	_, err := l.ConfirmPayment(tender.Cash, 4000)
	require.NoError(t, err)

	// Switching to card must keep the cash already in the drawer.
	l.SelectMethod(tender.Debit)
	require.Len(t, l.Entries(), 1)
	require.Equal(t, int64(6000), l.Remaining())

	_, err = l.ConfirmPayment(tender.Debit, 6000)
	require.NoError(t, err)
	require.True(t, l.IsSettleable())
}

func TestInstallments(t *testing.T) {
	l := tender.NewLedger(passThrough())
	l.SetOrderTotal(2550)
	l.SelectMethod(tender.Credit)

	require.Error(t, l.SelectInstallments(0))
	require.Error(t, l.SelectInstallments(3))
	require.NoError(t, l.SelectInstallments(2))

	q := l.QuoteRemaining()
	require.Equal(t, int64(2639), q.Total)
	require.Equal(t, 2, q.Installments)
	require.Equal(t, int64(1320), q.PerInstallment, "first installment takes the odd centavo")

	// Switching away from credit resets the installment count.
	l.SelectMethod(tender.Debit)
	require.Equal(t, 1, l.Installments())
	q = l.QuoteRemaining()
	require.Equal(t, 1, q.Installments)
	require.Equal(t, q.Total, q.PerInstallment)
}

func TestConfirmPaymentValidation(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(1000)

	_, err := l.ConfirmPayment(tender.Method("cheque"), 100)
	require.ErrorIs(t, err, tender.ErrUnknownMethod)

	_, err = l.ConfirmPayment(tender.Cash, 0)
	require.ErrorIs(t, err, tender.ErrInvalidAmount)

	_, err = l.ConfirmPayment(tender.Cash, -100)
	require.ErrorIs(t, err, tender.ErrInvalidAmount)
}

func TestReset(t *testing.T) {
	l := tender.NewLedger(tender.NoFees{})
	l.SetOrderTotal(1000)
	l.SelectMethod(tender.Credit)
	require.NoError(t, l.SelectInstallments(2))
	_, err := l.ConfirmPayment(tender.Credit, 500)
	require.NoError(t, err)

	l.Reset()
	require.Equal(t, tender.StateEmpty, l.State())
	require.Empty(t, l.Entries())
	require.Equal(t, 1, l.Installments())
	_, selected := l.SelectedMethod()
	require.False(t, selected)
	require.Equal(t, int64(1000), l.OrderTotal(), "reset keeps the cart total")
}

func TestParseMethod(t *testing.T) {
	for _, name := range []string{"cash", "pix", "debit", "credit"} {
		m, err := tender.ParseMethod(name)
		require.NoError(t, err)
		require.True(t, m.Valid())
	}
	_, err := tender.ParseMethod("voucher")
	require.ErrorIs(t, err, tender.ErrUnknownMethod)
}
