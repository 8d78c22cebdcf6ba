// Package pix builds BR Code payment payloads (the EMV-style QR string
// standardised by the Brazilian central bank) for the checkout screen.
package pix

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pontocerto/checkout/internal/money"
)

// Kind selects how the amount is represented in the payload.
type Kind string

const (
	// KindDynamic omits the amount; the payer types it in their bank app.
	KindDynamic Kind = "dynamic"
	// KindWithAmount embeds the exact amount owed.
	KindWithAmount Kind = "with_amount"
	// KindMinimum is a dynamic code used for open-amount minimum charges.
	KindMinimum Kind = "minimum"
)

const (
	maxMerchantName = 25
	maxMerchantCity = 15

	pixGUI      = "br.gov.bcb.pix"
	defaultTxid = "***"
)

var errFieldTooLong = errors.New("tlv value exceeds 99 characters")

// Request carries everything needed to render a BR Code.
type Request struct {
	MerchantName string
	City         string
	Key          string
	Amount       money.Amount
	Kind         Kind
}

// Encode renders the BR Code string for the request. It never fails: an
// empty key yields a human-readable preview line instead of a scannable
// code, and an internal construction error degrades to the minimal
// fixed-header payload.
func Encode(req Request) string {
	name := clip(strings.TrimSpace(req.MerchantName), maxMerchantName)
	city := clip(strings.TrimSpace(req.City), maxMerchantCity)
	key := strings.TrimSpace(req.Key)

	if key == "" {
		return fallbackPreview(name, req.Amount)
	}

	payload, err := buildPayload(name, city, key, req.Amount, req.Kind)
	if err != nil {
		return minimalPayload(name, city)
	}
	return AppendCRC(payload)
}

func buildPayload(name, city, key string, amount money.Amount, kind Kind) (string, error) {
	var b strings.Builder

	format, err := tlv("00", "01")
	if err != nil {
		return "", err
	}
	b.WriteString(format)

	gui, err := tlv("00", pixGUI)
	if err != nil {
		return "", err
	}
	keyField, err := tlv("01", key)
	if err != nil {
		return "", err
	}
	account, err := tlv("26", gui+keyField)
	if err != nil {
		return "", err
	}
	b.WriteString(account)

	mcc, err := tlv("52", "0000")
	if err != nil {
		return "", err
	}
	b.WriteString(mcc)

	currency, err := tlv("53", "986")
	if err != nil {
		return "", err
	}
	b.WriteString(currency)

	if kind == KindWithAmount && amount > 0 {
		amountField, err := tlv("54", money.Format(amount))
		if err != nil {
			return "", err
		}
		b.WriteString(amountField)
	}

	country, err := tlv("58", "BR")
	if err != nil {
		return "", err
	}
	b.WriteString(country)

	nameField, err := tlv("59", name)
	if err != nil {
		return "", err
	}
	b.WriteString(nameField)

	cityField, err := tlv("60", city)
	if err != nil {
		return "", err
	}
	b.WriteString(cityField)

	txid, err := tlv("05", defaultTxid)
	if err != nil {
		return "", err
	}
	additional, err := tlv("62", txid)
	if err != nil {
		return "", err
	}
	b.WriteString(additional)

	return b.String(), nil
}

// fallbackPreview is the QR-less line shown when the merchant has no PIX key
// configured. It is for display only and is never scanned.
func fallbackPreview(name string, amount money.Amount) string {
	return fmt.Sprintf("PIX %s - Valor R$ %s", strings.ToUpper(name), money.FormatBR(amount))
}

// minimalPayload is the defensive degradation path: fixed header, merchant
// identity and a fresh checksum, skipping whichever field failed to encode.
func minimalPayload(name, city string) string {
	payload := "000201"
	if field, err := tlv("59", name); err == nil {
		payload += field
	}
	if field, err := tlv("60", city); err == nil {
		payload += field
	}
	return AppendCRC(payload)
}

func tlv(tag, value string) (string, error) {
	if len(value) > 99 {
		return "", fmt.Errorf("tag %s: %w", tag, errFieldTooLong)
	}
	return fmt.Sprintf("%s%02d%s", tag, len(value), value), nil
}

// clip truncates to max characters on a rune boundary; slicing bytes could
// split an accented character in a merchant name and corrupt the payload.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
