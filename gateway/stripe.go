package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/webhook"
	"github.com/yashrajoria/relab-checkout/models"
)

const (
	externalReferenceKey = "external_reference"
	paymentIntentPrefix  = "pi_"
)

// StripeClient implements Gateway with PaymentIntents. The intent id serves as
// both the preference id and the payment id; the client secret is returned as
// the init point for the storefront.
type StripeClient struct {
	webhookSecret string
	currency      string
}

func NewStripeClient(secretKey, webhookSecret, currency string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{webhookSecret: webhookSecret, currency: strings.ToLower(currency)}
}

func (c *StripeClient) Name() string { return ProviderStripe }

func (c *StripeClient) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	currency := c.currency
	if req.Currency != "" {
		currency = strings.ToLower(req.Currency)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(currency),
		Description: stripe.String("Order " + req.OrderNumber),
	}
	params.Context = ctx
	params.AddMetadata(externalReferenceKey, req.ExternalReference)
	params.AddMetadata("order_number", req.OrderNumber)
	if req.Payer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Payer.Email)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, c.wrap("create_preference", err)
	}
	raw, err := json.Marshal(pi)
	if err != nil {
		return nil, c.wrap("create_preference", err)
	}
	return &Preference{ID: pi.ID, PaymentID: pi.ID, InitPoint: pi.ClientSecret, Raw: raw}, nil
}

// FetchPayment loads a PaymentIntent. Events about other objects (charges,
// refunds, customers) carry ids this adapter does not reconcile and are
// refused without calling the API.
func (c *StripeClient) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if !strings.HasPrefix(paymentID, paymentIntentPrefix) {
		return nil, fmt.Errorf("%w: %q is not a payment intent", ErrUnsupportedPayment, paymentID)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, c.wrap("fetch_payment", err)
	}
	raw, err := json.Marshal(pi)
	if err != nil {
		return nil, c.wrap("fetch_payment", err)
	}

	paymentType := ""
	if len(pi.PaymentMethodTypes) > 0 {
		paymentType = pi.PaymentMethodTypes[0]
	}
	return &PaymentInfo{
		ID:                pi.ID,
		Status:            StripeStatus(pi.Status, pi.LastPaymentError != nil),
		PaymentType:       paymentType,
		ExternalReference: pi.Metadata[externalReferenceKey],
		Raw:               raw,
	}, nil
}

// StripeStatus maps an intent status onto the processor-neutral payment status.
func StripeStatus(status stripe.PaymentIntentStatus, lastAttemptFailed bool) models.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentStatusApproved
	case stripe.PaymentIntentStatusProcessing:
		return models.PaymentStatusInProcess
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if lastAttemptFailed {
			return models.PaymentStatusRejected
		}
	}
	return models.PaymentStatusPending
}

// VerifySignature validates the Stripe-Signature header against the raw body.
func (c *StripeClient) VerifySignature(n *Notification) error {
	if c.webhookSecret == "" {
		return nil
	}
	header := n.Headers.Get("Stripe-Signature")
	if header == "" {
		return ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(n.Body, header, c.webhookSecret); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	return nil
}

func (c *StripeClient) wrap(op string, err error) error {
	gwErr := &Error{Provider: c.Name(), Op: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gwErr.StatusCode = stripeErr.HTTPStatusCode
		gwErr.Body = stripeErr.Msg
	}
	return gwErr
}
