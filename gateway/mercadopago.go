package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yashrajoria/relab-checkout/models"
)

const (
	defaultMercadoPagoURL = "https://api.mercadopago.com"
	// DefaultSignatureTolerance bounds how far a notification ts may drift
	// from the local clock.
	DefaultSignatureTolerance = 5 * time.Minute
)

type MercadoPagoConfig struct {
	BaseURL            string
	AccessToken        string
	WebhookSecret      string
	SiteURL            string
	Timeout            time.Duration
	SignatureTolerance time.Duration
	Now                func() time.Time
}

// MercadoPagoClient implements Gateway over the Mercado Pago REST API.
type MercadoPagoClient struct {
	baseURL       string
	accessToken   string
	webhookSecret string
	siteURL       string
	tolerance     time.Duration
	now           func() time.Time
	http          *http.Client
}

func NewMercadoPagoClient(cfg MercadoPagoConfig) *MercadoPagoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMercadoPagoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MercadoPagoClient{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		accessToken:   cfg.AccessToken,
		webhookSecret: cfg.WebhookSecret,
		siteURL:       strings.TrimSuffix(cfg.SiteURL, "/"),
		tolerance:     tolerance,
		now:           now,
		http:          &http.Client{Timeout: timeout},
	}
}

func (c *MercadoPagoClient) Name() string { return ProviderMercadoPago }

type mpItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceRequest struct {
	Items               []mpItem   `json:"items"`
	Payer               *mpPayer   `json:"payer,omitempty"`
	BackURLs            mpBackURLs `json:"back_urls"`
	AutoReturn          string     `json:"auto_return"`
	StatementDescriptor string     `json:"statement_descriptor,omitempty"`
	ExternalReference   string     `json:"external_reference"`
	NotificationURL     string     `json:"notification_url"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	PaymentTypeID     string      `json:"payment_type_id"`
	ExternalReference string      `json:"external_reference"`
}

func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	body := mpPreferenceRequest{
		Items: make([]mpItem, 0, len(req.Items)),
		BackURLs: mpBackURLs{
			Success: c.siteURL + "/pagamento/sucesso",
			Failure: c.siteURL + "/pagamento/falha",
			Pending: c.siteURL + "/pagamento/pendente",
		},
		AutoReturn:          "approved",
		StatementDescriptor: "RELAB",
		ExternalReference:   req.ExternalReference,
		NotificationURL:     c.siteURL + "/payments/webhook",
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, mpItem{
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  minorToDecimal(it.UnitPrice),
			CurrencyID: strings.ToUpper(req.Currency),
		})
	}
	if req.Payer.Email != "" || req.Payer.Name != "" {
		body.Payer = &mpPayer{Name: req.Payer.Name, Email: req.Payer.Email}
	}

	raw, err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return nil, err
	}

	var out mpPreferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Provider: c.Name(), Op: "create_preference", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &Preference{ID: out.ID, InitPoint: out.InitPoint, SandboxInitPoint: out.SandboxInitPoint, Raw: raw}, nil
}

func (c *MercadoPagoClient) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	raw, err := c.do(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	var out mpPaymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Provider: c.Name(), Op: "fetch_payment", Err: fmt.Errorf("decode response: %w", err)}
	}

	id := out.ID.String()
	if id == "" {
		id = paymentID
	}
	return &PaymentInfo{
		ID:                id,
		Status:            models.PaymentStatus(out.Status),
		PaymentType:       out.PaymentTypeID,
		ExternalReference: out.ExternalReference,
		Raw:               raw,
	}, nil
}

func (c *MercadoPagoClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Provider: c.Name(), Op: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: c.Name(), Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Provider: c.Name(), Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Provider: c.Name(), Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// VerifySignature checks the x-signature header, "ts=<unix>,v1=<hex>", as an
// HMAC-SHA256 over "id:<payment id>;request-id:<x-request-id>;ts:<ts>;". The id
// is n.PaymentID when set, otherwise the data.id query parameter. A ts outside
// the tolerance window is rejected. Without a configured secret every
// notification is accepted.
func (c *MercadoPagoClient) VerifySignature(n *Notification) error {
	if c.webhookSecret == "" {
		return nil
	}

	ts, v1 := parseMercadoPagoSignature(n.Headers.Get("x-signature"))
	if ts == "" || v1 == "" {
		return ErrInvalidSignature
	}
	if !c.fresh(ts) {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	dataID := n.PaymentID
	if dataID == "" {
		dataID = n.Query.Get("data.id")
	}
	expected := MercadoPagoSignature(c.webhookSecret, dataID, n.Headers.Get("x-request-id"), ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrInvalidSignature
	}
	return nil
}

// fresh reports whether ts, in seconds or milliseconds, is within tolerance.
func (c *MercadoPagoClient) fresh(ts string) bool {
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || v <= 0 {
		return false
	}
	sent := time.Unix(v, 0)
	if v > 1e12 {
		sent = time.UnixMilli(v)
	}
	drift := c.now().Sub(sent)
	if drift < 0 {
		drift = -drift
	}
	return drift <= c.tolerance
}

func parseMercadoPagoSignature(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

// MercadoPagoSignature computes the hex v1 signature for a notification.
// Empty id or request id are left out of the manifest.
func MercadoPagoSignature(secret, dataID, requestID, ts string) string {
	var manifest strings.Builder
	if dataID != "" {
		manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
