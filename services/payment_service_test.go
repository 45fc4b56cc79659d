package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/services"
)

func TestCreatePreference_MatchesOrderTotal(t *testing.T) {
	f := newFixture(t, services.WithShippingFee(990))
	ctx := context.Background()
	p := f.product(1500, 10)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 2})

	resp, err := f.payments.CreatePreference(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pref-"+order.ID.String()[:8], resp.PreferenceID)
	assert.Equal(t, "https://pay.example/checkout", resp.InitPoint)

	payment, ok := f.store.paymentFor(order.ID)
	require.True(t, ok)
	assert.Equal(t, resp.PaymentID, payment.ID)
	assert.Equal(t, order.Total, payment.Amount)
	assert.Equal(t, int64(3990), payment.Amount)
	assert.Equal(t, "BRL", payment.Currency)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "fake", payment.Provider)
	assert.Nil(t, payment.ExternalPaymentID)

	require.Len(t, f.gateway.prefReqs, 1)
	req := f.gateway.prefReqs[0]
	assert.Equal(t, order.ID.String(), req.ExternalReference)
	assert.Equal(t, order.Total, req.Amount)
	assert.Equal(t, buyer.Email, req.Payer.Email)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Frete", req.Items[1].Title)
	assert.Equal(t, int64(990), req.Items[1].UnitPrice)
}

func TestCreatePreference_OnePaymentPerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.payments.CreatePreference(ctx, buyer, order.ID)
	require.NoError(t, err)

	_, err = f.payments.CreatePreference(ctx, buyer, order.ID)
	assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, 1, f.store.paymentCount())
	assert.Len(t, f.gateway.prefReqs, 1)
}

func TestCreatePreference_OwnershipAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.payments.CreatePreference(ctx, customer(), order.ID)
	assertKind(t, err, apperrors.KindForbidden)

	_, err = f.payments.CreatePreference(ctx, buyer, uuid.New())
	assertKind(t, err, apperrors.KindNotFound)

	_, err = f.orders.Cancel(ctx, buyer, order.ID, "")
	require.NoError(t, err)
	_, err = f.payments.CreatePreference(ctx, buyer, order.ID)
	assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, 0, f.store.paymentCount())
}

func TestCreatePreference_GatewayFailureLeavesNoPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})
	f.gateway.prefErr = context.DeadlineExceeded

	_, err := f.payments.CreatePreference(ctx, buyer, order.ID)
	assertKind(t, err, apperrors.KindGateway)
	assert.Equal(t, 0, f.store.paymentCount())

	f.gateway.prefErr = nil
	_, err = f.payments.CreatePreference(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.paymentCount())
}

func TestPaymentGet_VisibleToOwnerAndStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, buyer := f.pendingOrder(t)
	payment, _ := f.store.paymentFor(order.ID)

	got, err := f.payments.Get(ctx, buyer, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.OrderID)

	_, err = f.payments.Get(ctx, staff(), payment.ID)
	require.NoError(t, err)

	_, err = f.payments.Get(ctx, customer(), payment.ID)
	assertKind(t, err, apperrors.KindNotFound)

	list, err := f.payments.List(ctx, buyer, 1, 10)
	require.NoError(t, err)
	assert.Len(t, list.Payments, 1)
	assert.Equal(t, int64(1), list.Meta.Total)
}

func TestPaymentStatus_PollsProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, buyer := f.pendingOrder(t)
	payment, _ := f.store.paymentFor(order.ID)

	// not yet reported by the processor
	got, err := f.payments.Status(ctx, buyer, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.Equal(t, 0, f.gateway.fetches)

	f.gateway.report("5005", order.ID, models.PaymentStatusInProcess)
	_, err = f.recon.HandleNotification(ctx, byID("5005"))
	require.NoError(t, err)

	f.gateway.report("5005", order.ID, models.PaymentStatusApproved)
	got, err = f.payments.Status(ctx, buyer, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, got.Status)
	assert.Equal(t, models.OrderStatusPaid, f.store.order(order.ID).Status)
}
