package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/yashrajoria/relab-checkout/gateway"
	"github.com/yashrajoria/relab-checkout/models"
)

func newMercadoPago(t *testing.T, handler http.HandlerFunc, secret string) *gateway.MercadoPagoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return gateway.NewMercadoPagoClient(gateway.MercadoPagoConfig{
		BaseURL:       srv.URL,
		AccessToken:   "TEST-token",
		WebhookSecret: secret,
		SiteURL:       "https://loja.example/",
		Timeout:       2 * time.Second,
	})
}

func TestMercadoPago_CreatePreference(t *testing.T) {
	var got map[string]any
	client := newMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"123-abc","init_point":"https://mp/init","sandbox_init_point":"https://mp/sandbox"}`))
	}, "")

	pref, err := client.CreatePreference(context.Background(), &gateway.PreferenceRequest{
		ExternalReference: "order-uuid",
		Items:             []gateway.PreferenceItem{{Title: "Camiseta", Quantity: 2, UnitPrice: 4990}},
		Payer:             gateway.Payer{Email: "buyer@example.com"},
		Amount:            9980,
		Currency:          "brl",
	})
	require.NoError(t, err)
	assert.Equal(t, "123-abc", pref.ID)
	assert.Equal(t, "https://mp/init", pref.InitPoint)
	assert.Equal(t, "https://mp/sandbox", pref.SandboxInitPoint)
	assert.Empty(t, pref.PaymentID)

	assert.Equal(t, "order-uuid", got["external_reference"])
	assert.Equal(t, "https://loja.example/payments/webhook", got["notification_url"])
	items := got["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, 49.9, item["unit_price"])
	assert.Equal(t, "BRL", item["currency_id"])
	backURLs := got["back_urls"].(map[string]any)
	assert.Equal(t, "https://loja.example/pagamento/sucesso", backURLs["success"])
}

func TestMercadoPago_FetchPayment(t *testing.T) {
	client := newMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456789", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":123456789,"status":"approved","payment_type_id":"account_money","external_reference":"ref-1"}`))
	}, "")

	info, err := client.FetchPayment(context.Background(), "123456789")
	require.NoError(t, err)
	assert.Equal(t, "123456789", info.ID)
	assert.Equal(t, models.PaymentStatusApproved, info.Status)
	assert.Equal(t, "account_money", info.PaymentType)
	assert.Equal(t, "ref-1", info.ExternalReference)
	assert.NotEmpty(t, info.Raw)
}

func TestMercadoPago_ErrorStatus(t *testing.T) {
	client := newMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found"}`))
	}, "")

	_, err := client.FetchPayment(context.Background(), "1")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.Equal(t, "mercadopago", gwErr.Provider)
	assert.Contains(t, gwErr.Body, "Payment not found")
}

func TestMercadoPago_HonoursDeadline(t *testing.T) {
	client := newMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.FetchPayment(ctx, "1")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMercadoPago_VerifySignature(t *testing.T) {
	const secret = "whsec"
	now := time.Unix(1700000000, 0)
	client := gateway.NewMercadoPagoClient(gateway.MercadoPagoConfig{
		WebhookSecret: secret,
		Now:           func() time.Time { return now },
	})

	sign := func(dataID, requestID, ts string) *gateway.Notification {
		n := &gateway.Notification{Headers: http.Header{}, Query: url.Values{"data.id": {dataID}}}
		n.Headers.Set("x-request-id", requestID)
		n.Headers.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, gateway.MercadoPagoSignature(secret, dataID, requestID, ts)))
		return n
	}
	ts := strconv.FormatInt(now.Unix(), 10)

	valid := sign("ABC123", "req-1", ts)
	assert.NoError(t, client.VerifySignature(valid))

	millis := sign("ABC123", "req-1", strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10))
	assert.NoError(t, client.VerifySignature(millis))

	tampered := sign("ABC123", "req-1", ts)
	tampered.Query.Set("data.id", "OTHER")
	assert.ErrorIs(t, client.VerifySignature(tampered), gateway.ErrInvalidSignature)

	stale := sign("ABC123", "req-1", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10))
	assert.ErrorIs(t, client.VerifySignature(stale), gateway.ErrInvalidSignature)

	future := sign("ABC123", "req-1", strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10))
	assert.ErrorIs(t, client.VerifySignature(future), gateway.ErrInvalidSignature)

	missing := &gateway.Notification{Headers: http.Header{}, Query: url.Values{}}
	assert.ErrorIs(t, client.VerifySignature(missing), gateway.ErrInvalidSignature)

	open := newMercadoPago(t, func(http.ResponseWriter, *http.Request) {}, "")
	assert.NoError(t, open.VerifySignature(missing))
}

func TestMercadoPago_VerifySignatureUsesResolvedID(t *testing.T) {
	const secret = "whsec"
	client := gateway.NewMercadoPagoClient(gateway.MercadoPagoConfig{WebhookSecret: secret})
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	// Signed for the id in the body, while the query names another payment.
	n := &gateway.Notification{
		Headers: http.Header{},
		Query:   url.Values{"data.id": {"111"}},
		Body:    []byte(`{"data":{"id":"222"}}`),
	}
	n.Headers.Set("x-request-id", "req-1")
	n.Headers.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, gateway.MercadoPagoSignature(secret, "222", "req-1", ts)))

	assert.ErrorIs(t, client.VerifySignature(n), gateway.ErrInvalidSignature)

	n.PaymentID = "222"
	assert.NoError(t, client.VerifySignature(n))

	n.PaymentID = "111"
	assert.ErrorIs(t, client.VerifySignature(n), gateway.ErrInvalidSignature)
}

func TestMercadoPagoSignature_Manifest(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("id:abc;request-id:r1;ts:42;"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gateway.MercadoPagoSignature("s", "ABC", "r1", "42"))

	mac = hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("ts:42;"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gateway.MercadoPagoSignature("s", "", "", "42"))
}

func stripeHeader(secret string, payload []byte, ts time.Time) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp + "." + string(payload)))
	return "t=" + stamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestStripe_VerifySignature(t *testing.T) {
	client := gateway.NewStripeClient("sk_test", "whsec_test", "brl")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	n := &gateway.Notification{Headers: http.Header{}, Body: payload}
	n.Headers.Set("Stripe-Signature", stripeHeader("whsec_test", payload, time.Now()))
	assert.NoError(t, client.VerifySignature(n))

	n.Headers.Set("Stripe-Signature", stripeHeader("wrong", payload, time.Now()))
	assert.ErrorIs(t, client.VerifySignature(n), gateway.ErrInvalidSignature)

	n.Headers.Set("Stripe-Signature", stripeHeader("whsec_test", payload, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, client.VerifySignature(n), gateway.ErrInvalidSignature)

	n.Headers.Del("Stripe-Signature")
	assert.ErrorIs(t, client.VerifySignature(n), gateway.ErrInvalidSignature)
}

func TestStripe_FetchPaymentRefusesOtherObjects(t *testing.T) {
	client := gateway.NewStripeClient("sk_test", "", "brl")
	for _, id := range []string{"ch_3Nabc", "re_1", "evt_1", ""} {
		_, err := client.FetchPayment(context.Background(), id)
		assert.ErrorIs(t, err, gateway.ErrUnsupportedPayment, id)
	}
}

func TestStripeStatus(t *testing.T) {
	assert.Equal(t, models.PaymentStatusApproved, gateway.StripeStatus(stripe.PaymentIntentStatusSucceeded, false))
	assert.Equal(t, models.PaymentStatusInProcess, gateway.StripeStatus(stripe.PaymentIntentStatusProcessing, false))
	assert.Equal(t, models.PaymentStatusCancelled, gateway.StripeStatus(stripe.PaymentIntentStatusCanceled, false))
	assert.Equal(t, models.PaymentStatusRejected, gateway.StripeStatus(stripe.PaymentIntentStatusRequiresPaymentMethod, true))
	assert.Equal(t, models.PaymentStatusPending, gateway.StripeStatus(stripe.PaymentIntentStatusRequiresPaymentMethod, false))
	assert.Equal(t, models.PaymentStatusPending, gateway.StripeStatus(stripe.PaymentIntentStatusRequiresAction, false))
}
