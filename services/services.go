// Package services holds the checkout core: cart, checkout, order lifecycle,
// payments and reconciliation. Every multi-step write runs inside one
// repository.Store transaction.
package services

import (
	"context"
	"time"

	"github.com/yashrajoria/relab-checkout/models"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"go.uber.org/zap"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type MetaData struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

type OrderList struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type PaymentList struct {
	Payments []models.Payment `json:"payments"`
	Meta     MetaData         `json:"meta"`
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func newMeta(page, limit int, total int64) MetaData {
	return MetaData{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: calculateTotalPages(total, limit),
		HasMore:    total > int64(page*limit),
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

// recordCount sends a business metric without blocking the caller.
func recordCount(metrics *awspkg.MetricsClient, name string, dimensions map[string]string) {
	if !metrics.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.RecordCount(ctx, name, dimensions)
	}()
}

func recordLatency(metrics *awspkg.MetricsClient, name string, d time.Duration, dimensions map[string]string) {
	if !metrics.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.RecordLatency(ctx, name, d, dimensions)
	}()
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
