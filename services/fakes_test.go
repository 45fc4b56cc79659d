package services_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/gateway"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/repository"
)

// ---- in-memory store ----

type memData struct {
	products  map[uuid.UUID]models.Product
	addresses map[uuid.UUID]models.Address
	carts     map[uuid.UUID]models.Cart // keyed by user id
	orders    map[uuid.UUID]models.Order
	history   map[uuid.UUID][]models.StatusEvent
	payments  map[uuid.UUID]models.Payment
}

func newMemData() *memData {
	return &memData{
		products:  map[uuid.UUID]models.Product{},
		addresses: map[uuid.UUID]models.Address{},
		carts:     map[uuid.UUID]models.Cart{},
		orders:    map[uuid.UUID]models.Order{},
		history:   map[uuid.UUID][]models.StatusEvent{},
		payments:  map[uuid.UUID]models.Payment{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.addresses {
		c.addresses[k] = v
	}
	for k, v := range d.carts {
		v.Items = append([]models.CartItem(nil), v.Items...)
		c.carts[k] = v
	}
	for k, v := range d.orders {
		v.Items = append([]models.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range d.history {
		c.history[k] = append([]models.StatusEvent(nil), v...)
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

// memStore is a repository.Store over maps. Transactions hold one global lock
// and restore a snapshot when fn fails, which serialises concurrent checkouts
// the same way row locks do.
type memStore struct {
	mu   *sync.Mutex
	data **memData
	inTx bool
}

func newMemStore() *memStore {
	d := newMemData()
	return &memStore{mu: &sync.Mutex{}, data: &d}
}

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) d() *memData { return *s.data }

func (s *memStore) Carts() repository.CartRepository { return memCarts{s} }
func (s *memStore) Catalog() repository.CatalogRepository { return memCatalog{s} }
func (s *memStore) Inventory() repository.InventoryRepository { return memInventory{s} }
func (s *memStore) Orders() repository.OrderRepository { return memOrders{s} }
func (s *memStore) Payments() repository.PaymentRepository { return memPayments{s} }

func (s *memStore) WithinTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d().clone()
	if err := fn(&memStore{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = snapshot
		return err
	}
	return nil
}

// test helpers, called outside transactions

func (s *memStore) addProduct(p models.Product) models.Product {
	defer s.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.d().products[p.ID] = p
	return p
}

func (s *memStore) addAddress(owner uuid.UUID, active bool) models.Address {
	defer s.lock()()
	a := models.Address{ID: uuid.New(), UserID: owner, Active: active, City: "São Paulo", State: "SP"}
	s.d().addresses[a.ID] = a
	return a
}

func (s *memStore) product(id uuid.UUID) models.Product {
	defer s.lock()()
	return s.d().products[id]
}

func (s *memStore) setPrice(id uuid.UUID, price int64) {
	defer s.lock()()
	p := s.d().products[id]
	p.Price = price
	s.d().products[id] = p
}

func (s *memStore) order(id uuid.UUID) models.Order {
	defer s.lock()()
	o := s.d().orders[id]
	o.History = append([]models.StatusEvent(nil), s.d().history[id]...)
	return o
}

func (s *memStore) orderCount() int {
	defer s.lock()()
	return len(s.d().orders)
}

func (s *memStore) paymentFor(orderID uuid.UUID) (models.Payment, bool) {
	defer s.lock()()
	for _, p := range s.d().payments {
		if p.OrderID == orderID {
			return p, true
		}
	}
	return models.Payment{}, false
}

func (s *memStore) paymentCount() int {
	defer s.lock()()
	return len(s.d().payments)
}

type memCarts struct{ s *memStore }

func (r memCarts) FindByUserID(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	defer r.s.lock()()
	c, ok := r.s.d().carts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Items = append([]models.CartItem(nil), c.Items...)
	return &c, nil
}

func (r memCarts) Create(_ context.Context, cart *models.Cart) error {
	defer r.s.lock()()
	if _, ok := r.s.d().carts[cart.UserID]; ok {
		return repository.ErrDuplicate
	}
	c := *cart
	c.Items = nil
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.s.d().carts[cart.UserID] = c
	return nil
}

func (r memCarts) byID(cartID uuid.UUID) (uuid.UUID, *models.Cart) {
	for user, c := range r.s.d().carts {
		if c.ID == cartID {
			c := c
			return user, &c
		}
	}
	return uuid.Nil, nil
}

func (r memCarts) FindItem(_ context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	defer r.s.lock()()
	_, c := r.byID(cartID)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	for _, it := range c.Items {
		if it.ID == itemID {
			it := it
			return &it, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memCarts) AddItem(_ context.Context, item *models.CartItem) error {
	defer r.s.lock()()
	user, c := r.byID(item.CartID)
	if c == nil {
		return repository.ErrNotFound
	}
	if c.FindItem(item.ProductID) != nil {
		return repository.ErrDuplicate
	}
	it := *item
	it.CreatedAt = time.Now()
	c.Items = append(c.Items, it)
	r.s.d().carts[user] = *c
	return nil
}

func (r memCarts) UpdateItemQuantity(_ context.Context, cartID, itemID uuid.UUID, qty int) error {
	defer r.s.lock()()
	user, c := r.byID(cartID)
	if c == nil {
		return repository.ErrNotFound
	}
	items := append([]models.CartItem(nil), c.Items...)
	for i := range items {
		if items[i].ID == itemID {
			items[i].Quantity = qty
			c.Items = items
			r.s.d().carts[user] = *c
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r memCarts) DeleteItem(_ context.Context, cartID, itemID uuid.UUID) error {
	defer r.s.lock()()
	user, c := r.byID(cartID)
	if c == nil {
		return repository.ErrNotFound
	}
	kept := make([]models.CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(c.Items) {
		return repository.ErrNotFound
	}
	c.Items = kept
	r.s.d().carts[user] = *c
	return nil
}

func (r memCarts) ClearItems(_ context.Context, cartID uuid.UUID) error {
	defer r.s.lock()()
	user, c := r.byID(cartID)
	if c == nil {
		return nil
	}
	c.Items = nil
	r.s.d().carts[user] = *c
	return nil
}

type memCatalog struct{ s *memStore }

func (r memCatalog) FindProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	defer r.s.lock()()
	p, ok := r.s.d().products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r memCatalog) FindAddress(_ context.Context, id uuid.UUID) (*models.Address, error) {
	defer r.s.lock()()
	a, ok := r.s.d().addresses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

type memInventory struct{ s *memStore }

func (r memInventory) Decrement(_ context.Context, productID uuid.UUID, qty int) error {
	defer r.s.lock()()
	p, ok := r.s.d().products[productID]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Stock < qty {
		return repository.ErrInsufficientStock
	}
	p.Stock -= qty
	r.s.d().products[productID] = p
	return nil
}

func (r memInventory) Restock(_ context.Context, productID uuid.UUID, qty int) error {
	defer r.s.lock()()
	p, ok := r.s.d().products[productID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Stock += qty
	r.s.d().products[productID] = p
	return nil
}

func (r memInventory) IncrementSales(_ context.Context, productID uuid.UUID, qty int) error {
	defer r.s.lock()()
	p, ok := r.s.d().products[productID]
	if !ok {
		return nil
	}
	p.Sales += qty
	r.s.d().products[productID] = p
	return nil
}

func (r memInventory) Available(_ context.Context, productID uuid.UUID) (int, error) {
	defer r.s.lock()()
	p, ok := r.s.d().products[productID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return p.Stock, nil
}

type memOrders struct{ s *memStore }

func (r memOrders) Create(_ context.Context, order *models.Order) error {
	defer r.s.lock()()
	if _, ok := r.s.d().orders[order.ID]; ok {
		return repository.ErrDuplicate
	}
	o := *order
	o.Recalculate()
	o.Items = append([]models.OrderItem(nil), order.Items...)
	o.History = nil
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.s.d().orders[o.ID] = o
	return nil
}

func (r memOrders) load(id uuid.UUID, withHistory bool) (*models.Order, error) {
	o, ok := r.s.d().orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	o.History = nil
	if withHistory {
		o.History = append([]models.StatusEvent(nil), r.s.d().history[id]...)
	}
	return &o, nil
}

func (r memOrders) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	defer r.s.lock()()
	return r.load(id, true)
}

func (r memOrders) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*models.Order, error) {
	defer r.s.lock()()
	return r.load(id, false)
}

func (r memOrders) list(match func(models.Order) bool, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	var all []models.Order
	for _, o := range r.s.d().orders {
		if !match(o) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.PaymentMethod != "" && o.PaymentMethod != filter.PaymentMethod {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Order(nil), all[start:end]...), int64(len(all)), nil
}

func (r memOrders) FindByUserID(_ context.Context, userID uuid.UUID, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	defer r.s.lock()()
	return r.list(func(o models.Order) bool { return o.UserID == userID }, filter, page, limit)
}

func (r memOrders) FindAll(_ context.Context, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	defer r.s.lock()()
	return r.list(func(models.Order) bool { return true }, filter, page, limit)
}

func (r memOrders) Save(_ context.Context, order *models.Order) error {
	defer r.s.lock()()
	existing, ok := r.s.d().orders[order.ID]
	if !ok {
		return repository.ErrNotFound
	}
	o := *order
	o.Recalculate()
	order.Total = o.Total
	o.Items = existing.Items
	o.History = nil
	r.s.d().orders[o.ID] = o
	return nil
}

func (r memOrders) AppendStatusEvent(_ context.Context, event *models.StatusEvent) error {
	defer r.s.lock()()
	e := *event
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	r.s.d().history[e.OrderID] = append(r.s.d().history[e.OrderID], e)
	return nil
}

type memPayments struct{ s *memStore }

func (r memPayments) Create(_ context.Context, payment *models.Payment) error {
	defer r.s.lock()()
	for _, p := range r.s.d().payments {
		if p.OrderID == payment.OrderID {
			return repository.ErrDuplicate
		}
	}
	p := *payment
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.d().payments[p.ID] = p
	return nil
}

func (r memPayments) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	defer r.s.lock()()
	p, ok := r.s.d().payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) FindByOrderID(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	defer r.s.lock()()
	for _, p := range r.s.d().payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memPayments) FindByUserID(_ context.Context, userID uuid.UUID, page, limit int) ([]models.Payment, int64, error) {
	defer r.s.lock()()
	var out []models.Payment
	for _, p := range r.s.d().payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (r memPayments) FindOpen(_ context.Context, limit int) ([]models.Payment, error) {
	defer r.s.lock()()
	var out []models.Payment
	for _, p := range r.s.d().payments {
		if p.ExternalPaymentID == nil {
			continue
		}
		if p.Status == models.PaymentStatusPending || p.Status == models.PaymentStatusInProcess {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memPayments) Save(_ context.Context, payment *models.Payment) error {
	defer r.s.lock()()
	if _, ok := r.s.d().payments[payment.ID]; !ok {
		return repository.ErrNotFound
	}
	r.s.d().payments[payment.ID] = *payment
	return nil
}

// ---- fake gateway ----

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]gateway.PaymentInfo
	prefErr  error
	fetchErr error
	sigErr   error
	prefReqs []*gateway.PreferenceRequest
	fetches  int
	verified []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]gateway.PaymentInfo{}}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreatePreference(_ context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefReqs = append(g.prefReqs, req)
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	return &gateway.Preference{
		ID:               "pref-" + req.ExternalReference[:8],
		InitPoint:        "https://pay.example/checkout",
		SandboxInitPoint: "https://sandbox.pay.example/checkout",
		Raw:              []byte(`{"id":"pref"}`),
	}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	info, ok := g.payments[paymentID]
	if !ok {
		return nil, &gateway.Error{Provider: "fake", Op: "fetch payment", StatusCode: 404}
	}
	return &info, nil
}

func (g *fakeGateway) VerifySignature(n *gateway.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = append(g.verified, n.PaymentID)
	return g.sigErr
}

// report sets what the processor will answer for paymentID.
func (g *fakeGateway) report(paymentID string, orderID uuid.UUID, status models.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[paymentID] = gateway.PaymentInfo{
		ID:                paymentID,
		Status:            status,
		PaymentType:       "credit_card",
		ExternalReference: orderID.String(),
		Raw:               []byte(`{"id":"` + paymentID + `","status":"` + string(status) + `"}`),
	}
}

// ---- recording publisher ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// ---- idempotency store ----

type memIdempotency struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{values: map[string]string{}}
}

func (m *memIdempotency) Reserve(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	if !ok {
		m.values[key] = "pending"
		return "", true, nil
	}
	if v == "pending" {
		return "", false, nil
	}
	return v, false, nil
}

func (m *memIdempotency) Complete(_ context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = orderID
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var errBoom = errors.New("boom")
