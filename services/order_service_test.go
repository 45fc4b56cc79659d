package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
)

func TestCancel_RestocksAndRejectsSecondCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(1000, 5)
	b := f.product(2500, 3)
	buyer := customer()
	order := f.placeOrder(t, buyer,
		models.CheckoutLine{ProductID: a.ID, Quantity: 2},
		models.CheckoutLine{ProductID: b.ID, Quantity: 3},
	)
	require.Equal(t, 3, f.store.product(a.ID).Stock)
	require.Equal(t, 0, f.store.product(b.ID).Stock)

	cancelled, err := f.orders.Cancel(ctx, buyer, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 5, f.store.product(a.ID).Stock)
	assert.Equal(t, 3, f.store.product(b.ID).Stock)

	last := cancelled.History[len(cancelled.History)-1]
	assert.Equal(t, models.OrderStatusCancelled, last.Status)
	assert.Equal(t, "Cancelled by customer", last.Note)
	assert.Equal(t, buyer.UserID, *last.CreatedBy)

	_, err = f.orders.Cancel(ctx, buyer, order.ID, "again")
	assertKind(t, err, apperrors.KindInvalidTransition)
	assert.Equal(t, 5, f.store.product(a.ID).Stock)
	assert.Len(t, f.store.order(order.ID).History, 2)
}

func TestCancel_OtherUsersOrderLooksMissing(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 5)
	order := f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.orders.Cancel(context.Background(), customer(), order.ID, "")
	assertKind(t, err, apperrors.KindNotFound)
	assert.Equal(t, models.OrderStatusAwaitingPayment, f.store.order(order.ID).Status)
	assert.Equal(t, 4, f.store.product(p.ID).Stock)

	_, err = f.orders.Cancel(context.Background(), customer(), uuid.New(), "")
	assertKind(t, err, apperrors.KindNotFound)
}

func TestCancel_PaidOrderCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.orders.UpdateStatus(ctx, staff(), order.ID, &models.UpdateStatusRequest{Status: models.OrderStatusPaid})
	require.NoError(t, err)

	_, err = f.orders.Cancel(ctx, buyer, order.ID, "")
	assertKind(t, err, apperrors.KindInvalidTransition)
	assert.Equal(t, 4, f.store.product(p.ID).Stock)
}

func TestUpdateStatus_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	order := f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 1})
	admin := staff()

	steps := []models.OrderStatus{
		models.OrderStatusPaid,
		models.OrderStatusInFulfillment,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	}
	var got *models.Order
	for _, next := range steps {
		var err error
		got, err = f.orders.UpdateStatus(ctx, admin, order.ID, &models.UpdateStatusRequest{Status: next, Note: "moved to " + string(next)})
		require.NoError(t, err, "moving to %s", next)
		assert.Equal(t, next, got.Status)
	}

	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.ShippedAt)
	require.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.CancelledAt)
	assert.False(t, got.ShippedAt.Before(*got.PaidAt))
	assert.Len(t, got.History, 5)
	for _, ev := range got.History[1:] {
		assert.Equal(t, admin.UserID, *ev.CreatedBy)
	}

	_, err := f.orders.UpdateStatus(ctx, admin, order.ID, &models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
	assertKind(t, err, apperrors.KindInvalidTransition)
}

func TestUpdateStatus_RejectsIllegalMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	order := f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	tests := []struct {
		name string
		to   models.OrderStatus
	}{
		{"skip to shipped", models.OrderStatusShipped},
		{"skip to delivered", models.OrderStatusDelivered},
		{"same status", models.OrderStatusAwaitingPayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.UpdateStatus(ctx, staff(), order.ID, &models.UpdateStatusRequest{Status: tt.to})
			assertKind(t, err, apperrors.KindInvalidTransition)
			details := apperrors.From(err).Details
			assert.Equal(t, "awaiting_payment", details["from"])
			assert.Equal(t, string(tt.to), details["to"])
		})
	}

	_, err := f.orders.UpdateStatus(ctx, staff(), order.ID, &models.UpdateStatusRequest{Status: "lost"})
	assertKind(t, err, apperrors.KindValidation)
	assert.Len(t, f.store.order(order.ID).History, 1)
}

func TestUpdateStatus_RequiresStaff(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 5)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.orders.UpdateStatus(context.Background(), buyer, order.ID, &models.UpdateStatusRequest{Status: models.OrderStatusPaid})
	assertKind(t, err, apperrors.KindForbidden)

	_, err = f.orders.AddTracking(context.Background(), buyer, order.ID, "BR123")
	assertKind(t, err, apperrors.KindForbidden)
}

func TestUpdateStatus_AdminCancelRestocks(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 5)
	order := f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 4})

	got, err := f.orders.UpdateStatus(context.Background(), staff(), order.ID, &models.UpdateStatusRequest{Status: models.OrderStatusCancelled, Note: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, 5, f.store.product(p.ID).Stock)
	assert.Contains(t, f.events.types(), models.EventOrderStatusChanged)
}

func TestGet_HidesInternalNoteFromCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	note := "call before delivery"
	_, err := f.orders.UpdateStatus(ctx, staff(), order.ID, &models.UpdateStatusRequest{Status: models.OrderStatusPaid, InternalNote: &note})
	require.NoError(t, err)

	own, err := f.orders.Get(ctx, buyer, order.ID)
	require.NoError(t, err)
	assert.Empty(t, own.InternalNote)
	assert.NotEmpty(t, own.History)

	asStaff, err := f.orders.Get(ctx, staff(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, note, asStaff.InternalNote)

	_, err = f.orders.Get(ctx, customer(), order.ID)
	assertKind(t, err, apperrors.KindNotFound)

	list, err := f.orders.List(ctx, buyer, models.OrderFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Empty(t, list.Orders[0].InternalNote)
}

func TestList_PaginatesAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 50)
	buyer := customer()
	for i := 0; i < 3; i++ {
		f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})
	}
	f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	page, err := f.orders.List(ctx, buyer, models.OrderFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
	assert.Equal(t, int64(3), page.Meta.Total)
	assert.Equal(t, int64(2), page.Meta.TotalPages)
	assert.True(t, page.Meta.HasMore)

	last, err := f.orders.List(ctx, buyer, models.OrderFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, last.Orders, 1)
	assert.False(t, last.Meta.HasMore)

	none, err := f.orders.List(ctx, buyer, models.OrderFilter{Status: models.OrderStatusPaid}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, none.Orders)

	all, err := f.orders.ListAll(ctx, models.OrderFilter{}, 0, 500)
	require.NoError(t, err)
	assert.Len(t, all.Orders, 4)
	assert.Equal(t, 1, all.Meta.Page)
	assert.Equal(t, 100, all.Meta.Limit)
}

func TestAddTracking_KeepsStatus(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 5)
	order := f.placeOrder(t, customer(), models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	got, err := f.orders.AddTracking(context.Background(), staff(), order.ID, "  BR123456789  ")
	require.NoError(t, err)
	assert.Equal(t, "BR123456789", got.TrackingCode)
	assert.Equal(t, models.OrderStatusAwaitingPayment, got.Status)

	_, err = f.orders.AddTracking(context.Background(), staff(), order.ID, " ")
	assertKind(t, err, apperrors.KindValidation)
}

func TestAdjustCharges_KeepsTotalConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 2})

	discount, shipping := int64(300), int64(1200)
	got, err := f.orders.AdjustCharges(ctx, staff(), order.ID, &models.ChargesRequest{Discount: &discount, ShippingFee: &shipping})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Subtotal)
	assert.Equal(t, got.Subtotal-got.Discount+got.ShippingFee, got.Total)
	assert.Equal(t, int64(2900), got.Total)

	// a discount above the order value floors the total at zero
	big := int64(10000)
	got, err = f.orders.AdjustCharges(ctx, staff(), order.ID, &models.ChargesRequest{Discount: &big})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Total)

	neg := int64(-1)
	_, err = f.orders.AdjustCharges(ctx, staff(), order.ID, &models.ChargesRequest{ShippingFee: &neg})
	assertKind(t, err, apperrors.KindValidation)

	_, err = f.orders.AdjustCharges(ctx, staff(), order.ID, &models.ChargesRequest{})
	assertKind(t, err, apperrors.KindValidation)
}

func TestAdjustCharges_FrozenOncePaymentExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	buyer := customer()
	order := f.placeOrder(t, buyer, models.CheckoutLine{ProductID: p.ID, Quantity: 1})

	_, err := f.payments.CreatePreference(ctx, buyer, order.ID)
	require.NoError(t, err)

	discount := int64(100)
	_, err = f.orders.AdjustCharges(ctx, staff(), order.ID, &models.ChargesRequest{Discount: &discount})
	assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, int64(1000), f.store.order(order.ID).Total)
}
