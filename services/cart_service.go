package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/repository"
	"go.uber.org/zap"
)

// CartService manages the one cart each buyer owns. Stock is checked but not
// reserved while items sit in the cart.
type CartService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewCartService(store repository.Store, logger *zap.Logger) *CartService {
	return &CartService{store: store, logger: nopIfNil(logger)}
}

// View returns the buyer's cart, creating an empty one on first access.
func (s *CartService) View(ctx context.Context, buyer uuid.UUID) (*models.CartView, error) {
	cart, err := s.cartFor(ctx, buyer)
	if err != nil {
		return nil, err
	}
	view := cart.View()
	return &view, nil
}

// AddItem merges into an existing line for the product or creates a new one.
// created reports whether a new line was inserted.
func (s *CartService) AddItem(ctx context.Context, buyer uuid.UUID, req *models.AddCartItemRequest) (view *models.CartView, created bool, err error) {
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, false, err
	}

	// The cart is created outside the transaction: a lost unique-constraint
	// race would otherwise abort it.
	if _, err := s.cartFor(ctx, buyer); err != nil {
		return nil, false, err
	}

	err = s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().FindByUserID(ctx, buyer)
		if err != nil {
			return apperrors.Internal("Failed to load cart", err)
		}

		product, err := tx.Catalog().FindProduct(ctx, req.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Product not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to load product", err)
		}
		if !product.Sellable() {
			return apperrors.InsufficientStock(product.ID.String(), 0)
		}

		qty := req.Quantity
		existing := cart.FindItem(product.ID)
		if existing != nil {
			qty += existing.Quantity
		}
		if err := validateQuantity(qty); err != nil {
			return err
		}
		if qty > product.Stock {
			return apperrors.InsufficientStock(product.ID.String(), product.Stock)
		}

		if existing != nil {
			if err := tx.Carts().UpdateItemQuantity(ctx, cart.ID, existing.ID, qty); err != nil {
				return apperrors.Internal("Failed to update cart item", err)
			}
		} else {
			item := &models.CartItem{
				ID:          uuid.New(),
				CartID:      cart.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    qty,
				UnitPrice:   product.FinalPrice(),
			}
			if err := tx.Carts().AddItem(ctx, item); err != nil {
				return apperrors.Internal("Failed to add cart item", err)
			}
			created = true
		}

		view, err = s.reload(ctx, tx, buyer)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("cart item added",
		zap.String("user_id", buyer.String()),
		zap.String("product_id", req.ProductID.String()),
		zap.Bool("created", created),
	)
	return view, created, nil
}

// SetQuantity replaces the quantity of one of the buyer's lines.
func (s *CartService) SetQuantity(ctx context.Context, buyer, itemID uuid.UUID, qty int) (*models.CartView, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}

	var view *models.CartView
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().FindByUserID(ctx, buyer)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Cart item not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to load cart", err)
		}

		item, err := tx.Carts().FindItem(ctx, cart.ID, itemID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Cart item not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to load cart item", err)
		}

		product, err := tx.Catalog().FindProduct(ctx, item.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Product not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to load product", err)
		}
		if qty > product.Stock {
			return apperrors.InsufficientStock(product.ID.String(), product.Stock)
		}

		if err := tx.Carts().UpdateItemQuantity(ctx, cart.ID, item.ID, qty); err != nil {
			return apperrors.Internal("Failed to update cart item", err)
		}
		view, err = s.reload(ctx, tx, buyer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes one of the buyer's lines.
func (s *CartService) RemoveItem(ctx context.Context, buyer, itemID uuid.UUID) (*models.CartView, error) {
	var view *models.CartView
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().FindByUserID(ctx, buyer)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Cart item not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to load cart", err)
		}

		err = tx.Carts().DeleteItem(ctx, cart.ID, itemID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Cart item not found")
		}
		if err != nil {
			return apperrors.Internal("Failed to remove cart item", err)
		}
		view, err = s.reload(ctx, tx, buyer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Clear empties the buyer's cart. Clearing an empty or missing cart succeeds.
func (s *CartService) Clear(ctx context.Context, buyer uuid.UUID) error {
	cart, err := s.store.Carts().FindByUserID(ctx, buyer)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Internal("Failed to load cart", err)
	}
	if err := s.store.Carts().ClearItems(ctx, cart.ID); err != nil {
		return apperrors.Internal("Failed to clear cart", err)
	}
	return nil
}

// cartFor looks the buyer's cart up and creates it when missing. A concurrent
// creator wins the unique constraint on user_id; the loser re-reads.
func (s *CartService) cartFor(ctx context.Context, buyer uuid.UUID) (*models.Cart, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cart, err := s.store.Carts().FindByUserID(ctx, buyer)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal("Failed to load cart", err)
		}

		cart = &models.Cart{ID: uuid.New(), UserID: buyer, Items: []models.CartItem{}}
		err = s.store.Carts().Create(ctx, cart)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Internal("Failed to create cart", err)
		}
		s.logger.Debug("cart created concurrently, retrying lookup", zap.String("user_id", buyer.String()))
	}
	return nil, apperrors.Internal("Failed to create cart", fmt.Errorf("cart for %s not visible after conflict", buyer))
}

func (s *CartService) reload(ctx context.Context, store repository.Store, buyer uuid.UUID) (*models.CartView, error) {
	cart, err := store.Carts().FindByUserID(ctx, buyer)
	if err != nil {
		return nil, apperrors.Internal("Failed to load cart", err)
	}
	view := cart.View()
	return &view, nil
}

func validateQuantity(qty int) error {
	if qty < models.MinItemQuantity || qty > models.MaxItemQuantity {
		return apperrors.Validation(fmt.Sprintf("quantity must be between %d and %d", models.MinItemQuantity, models.MaxItemQuantity))
	}
	return nil
}
