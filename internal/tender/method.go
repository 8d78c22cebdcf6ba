package tender

import (
	"errors"
	"strings"
)

// Method is the payment instrument presented by the customer.
type Method string

const (
	Cash   Method = "cash"
	PIX    Method = "pix"
	Debit  Method = "debit"
	Credit Method = "credit"
)

// ErrUnknownMethod is returned when parsing an unrecognised tender method.
var ErrUnknownMethod = errors.New("unknown tender method")

// ParseMethod maps a wire string onto a Method.
func ParseMethod(value string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(value))) {
	case Cash:
		return Cash, nil
	case PIX:
		return PIX, nil
	case Debit:
		return Debit, nil
	case Credit:
		return Credit, nil
	default:
		return "", ErrUnknownMethod
	}
}

// Valid reports whether m is one of the four known methods.
func (m Method) Valid() bool {
	switch m {
	case Cash, PIX, Debit, Credit:
		return true
	}
	return false
}
