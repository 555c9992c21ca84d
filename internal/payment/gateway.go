// Package payment integrates with the external payment gateway. Orders are
// funded in two phases: an intent is reserved before checkout commits, and a
// gateway-signed confirmation is verified before the order is marked paid.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Captured is the gateway status of a successfully charged payment.
const Captured = "captured"

// Info describes a payment as reported by the gateway.
type Info struct {
	ID               string
	Status           string
	AmountMinorUnits int64
}

// Gateway is the payment provider contract this module depends on. Amounts
// are minor units (paise/cents) to avoid floating point on the wire.
type Gateway interface {
	// CreateIntent reserves a payment for the given amount and returns the
	// gateway's order identifier. The receipt is a unique caller-chosen
	// reference; metadata is attached verbatim for reconciliation.
	CreateIntent(ctx context.Context, amountMinorUnits int64, currency, receipt string, metadata map[string]string) (string, error)
	// FetchPayment reports the current state of a payment.
	FetchPayment(ctx context.Context, paymentID string) (Info, error)
}

// VerifySignature checks a gateway confirmation signature: hex HMAC-SHA256
// over "<gatewayOrderID>|<gatewayPaymentID>" with the shared secret. The
// comparison is constant-time.
func VerifySignature(gatewayOrderID, gatewayPaymentID, signature string, secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := mac.Sum(nil)

	supplied, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, supplied)
}
