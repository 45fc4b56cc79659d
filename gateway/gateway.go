// Package gateway is the boundary to the external payment processor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yashrajoria/relab-checkout/models"
)

const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

// ErrInvalidSignature is returned by VerifySignature when a notification cannot
// be authenticated.
var ErrInvalidSignature = errors.New("invalid notification signature")

// ErrUnsupportedPayment is returned by FetchPayment for ids that do not name a
// payment this adapter reconciles, such as a Stripe charge id.
var ErrUnsupportedPayment = errors.New("unsupported payment id")

// Gateway talks to one payment processor. Implementations never retry; callers
// own retry policy and must pass a context with a deadline.
type Gateway interface {
	Name() string
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
	VerifySignature(n *Notification) error
}

type PreferenceItem struct {
	Title     string
	Quantity  int
	UnitPrice int64
}

type Payer struct {
	Name  string
	Email string
}

type PreferenceRequest struct {
	// ExternalReference is echoed back by the processor on every payment.
	ExternalReference string
	OrderNumber       string
	Items             []PreferenceItem
	Payer             Payer
	Amount            int64
	Currency          string
}

type Preference struct {
	ID               string
	// PaymentID is set when the processor assigns the payment id up front.
	PaymentID        string
	InitPoint        string
	SandboxInitPoint string
	Raw              []byte
}

// PaymentInfo is the processor's authoritative view of a payment.
type PaymentInfo struct {
	ID                string
	Status            models.PaymentStatus
	PaymentType       string
	ExternalReference string
	Raw               []byte
}

// Notification is an inbound push from the processor as received over HTTP.
type Notification struct {
	Headers   http.Header
	Query     url.Values
	Body      []byte
	// PaymentID is the id the receiver resolved from the notification.
	// Signatures that cover the payment id are checked against it.
	PaymentID string
}

// Error wraps every failure of a remote call.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed", e.Provider, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// minorToDecimal converts cents to the decimal amount processors expect.
func minorToDecimal(v int64) float64 {
	return float64(v) / 100
}
