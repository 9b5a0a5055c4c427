package orders

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joao-fontenele/beadflow/internal/config"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeAddress struct {
	userID string
	text   string
}

// fakeState is everything a transaction can mutate. It is copied before each
// transaction and restored when the transaction fails.
type fakeState struct {
	orders       map[string]domain.Order
	accounts     map[string]domain.PointAccount
	beads        map[string]domain.Bead
	addOns       map[string]domain.AddOnProduct
	coupons      map[string]domain.UserCoupon
	reservations []domain.Reservation
	pointLogs    []domain.PointLog
	events       []domain.LogisticsEvent
}

func (s fakeState) clone() fakeState {
	return fakeState{
		orders:       maps.Clone(s.orders),
		accounts:     maps.Clone(s.accounts),
		beads:        maps.Clone(s.beads),
		addOns:       maps.Clone(s.addOns),
		coupons:      maps.Clone(s.coupons),
		reservations: slices.Clone(s.reservations),
		pointLogs:    slices.Clone(s.pointLogs),
		events:       slices.Clone(s.events),
	}
}

// fakeWorld implements every collaborator of Service in memory. RunInTx
// serialises transactions and rolls the state back on error.
type fakeWorld struct {
	txMu sync.Mutex

	fakeState
	addresses map[string]fakeAddress
	risks     []domain.RiskEvent
	params    domain.BusinessParams
	now       time.Time

	// failures injects an error into the named method.
	failures map[string]error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		fakeState: fakeState{
			orders: map[string]domain.Order{},
			accounts: map[string]domain.PointAccount{
				"u1": {UserID: "u1", Points: 1000, TotalSpend: decimal.Zero},
				"u2": {UserID: "u2", Points: 0, TotalSpend: decimal.Zero, ReferrerID: "u1"},
			},
			beads: map[string]domain.Bead{
				"rq-8":  {ID: "rq-8", Name: "Rose Quartz", DiameterMM: d("8"), Price: d("10"), Stock: 100, Active: true},
				"am-8":  {ID: "am-8", Name: "Amethyst", DiameterMM: d("8"), Price: d("15"), Stock: 100, Active: true},
				"ob-10": {ID: "ob-10", Name: "Obsidian", DiameterMM: d("10"), Price: d("12"), Stock: 2, Active: true},
			},
			addOns: map[string]domain.AddOnProduct{
				"box": {ID: "box", Name: "Gift box", Price: d("5"), Stock: 10, Active: true},
			},
			coupons: map[string]domain.UserCoupon{
				"c10": {ID: "c10", UserID: "u1", Name: "10% off", Kind: domain.CouponPercent, Value: d("10"), MinAmount: d("30"), Status: domain.CouponAvailable},
			},
		},
		addresses: map[string]fakeAddress{
			"a1": {userID: "u1", text: "Ana 555-0100 Lisbon 1 Rua Augusta"},
			"a2": {userID: "u2", text: "Bo 555-0101 Porto 2 Rua Santa Catarina"},
		},
		params: domain.BusinessParams{
			RuleVersion:           "v-test",
			HandworkFee:           d("3"),
			FreeShippingThreshold: d("99"),
			BaseShippingFee:       d("10"),
			PointValue:            d("0.01"),
			PointsEarnRate:        d("1"),
			CommissionRate:        d("0.05"),
			AffiliateEnabled:      true,
		},
		now:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		failures: map[string]error{},
	}
}

func (w *fakeWorld) clock() time.Time { return w.now }

func (w *fakeWorld) fail(method string) error {
	return w.failures[method]
}

func (w *fakeWorld) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.txMu.Lock()
	defer w.txMu.Unlock()

	saved := w.fakeState.clone()
	if err := fn(ctx); err != nil {
		w.fakeState = saved
		return err
	}
	return nil
}

// OrderStore

func (w *fakeWorld) Insert(_ context.Context, o *domain.Order) error {
	if err := w.fail("Insert"); err != nil {
		return err
	}
	w.orders[o.ID] = *o
	return nil
}

func (w *fakeWorld) Get(_ context.Context, ref string, _ bool) (*domain.Order, error) {
	for _, o := range w.orders {
		if o.ID == ref || o.Number == ref {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
}

func (w *fakeWorld) Update(_ context.Context, o *domain.Order) error {
	if _, ok := w.orders[o.ID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	w.orders[o.ID] = *o
	return nil
}

func (w *fakeWorld) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	n := 0
	for _, o := range w.orders {
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (w *fakeWorld) FindDuplicate(_ context.Context, userID, fp string, since, now time.Time) (*domain.Order, error) {
	for _, o := range w.orders {
		if o.UserID == userID && o.Fingerprint == fp && o.Status == domain.OrderStatusPendingPayment &&
			!o.CreatedAt.Before(since) && o.ExpiresAt.After(now) {
			return &o, nil
		}
	}
	return nil, nil
}

func (w *fakeWorld) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	if err := w.fail("ListExpired"); err != nil {
		return nil, err
	}
	var ids []string
	for _, o := range w.orders {
		if o.Status == domain.OrderStatusPendingPayment && !o.ExpiresAt.After(now) {
			ids = append(ids, o.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (w *fakeWorld) InsertRiskEvent(_ context.Context, e domain.RiskEvent) error {
	w.risks = append(w.risks, e)
	return nil
}

// AddressBook

func (w *fakeWorld) ResolveAddress(_ context.Context, userID, addressID string) (string, error) {
	a, ok := w.addresses[addressID]
	if !ok || a.userID != userID {
		return "", fmt.Errorf("%w: %s", domain.ErrAddressNotFound, addressID)
	}
	return a.text, nil
}

// Inventory

func (w *fakeWorld) Reserve(_ context.Context, orderID, userID string, quantities map[string]int, expiresAt time.Time) error {
	keys := slices.Sorted(maps.Keys(quantities))
	for _, sku := range keys {
		b, ok := w.beads[sku]
		qty := quantities[sku]
		if !ok || !b.Active || b.Stock < qty {
			return fmt.Errorf("%w: bead %s", domain.ErrInsufficientStock, sku)
		}
		b.Stock -= qty
		b.ReservedStock += qty
		w.beads[sku] = b
		w.reservations = append(w.reservations, domain.Reservation{
			ID: orderID + "/" + sku, OrderID: orderID, UserID: userID, SKU: sku,
			Quantity: qty, Status: domain.ReservationReserved, ExpiresAt: expiresAt, CreatedAt: w.now,
		})
	}
	return nil
}

func (w *fakeWorld) settle(orderID string, status domain.ReservationStatus, restock bool) {
	for i, r := range w.reservations {
		if r.OrderID != orderID || r.Status != domain.ReservationReserved {
			continue
		}
		b := w.beads[r.SKU]
		b.ReservedStock -= r.Quantity
		if restock {
			b.Stock += r.Quantity
		}
		w.beads[r.SKU] = b
		w.reservations[i].Status = status
	}
}

func (w *fakeWorld) Release(_ context.Context, orderID string, terminal domain.ReservationStatus) error {
	if err := w.fail("Release"); err != nil {
		return err
	}
	w.settle(orderID, terminal, true)
	return nil
}

func (w *fakeWorld) Consume(_ context.Context, orderID string) error {
	w.settle(orderID, domain.ReservationConsumed, false)
	return nil
}

func (w *fakeWorld) TakeAddOns(_ context.Context, quantities map[string]int) error {
	for id, qty := range quantities {
		p := w.addOns[id]
		if p.Stock < qty {
			return fmt.Errorf("%w: add-on %s", domain.ErrInsufficientStock, id)
		}
		p.Stock -= qty
		w.addOns[id] = p
	}
	return nil
}

func (w *fakeWorld) ReturnAddOns(_ context.Context, quantities map[string]int) error {
	for id, qty := range quantities {
		p := w.addOns[id]
		p.Stock += qty
		w.addOns[id] = p
	}
	return nil
}

// PointLedger

func (w *fakeWorld) Account(_ context.Context, userID string, _ bool) (domain.PointAccount, error) {
	a, ok := w.accounts[userID]
	if !ok {
		return domain.PointAccount{}, fmt.Errorf("%w: unknown user %s", domain.ErrInvalidInput, userID)
	}
	return a, nil
}

func (w *fakeWorld) log(userID, orderID string, kind domain.PointLogKind, n int64, amount *decimal.Decimal) {
	entry := domain.PointLog{UserID: userID, OrderID: orderID, Kind: kind, Points: n, CreatedAt: w.now}
	if amount != nil {
		entry.Amount = decimal.NewNullDecimal(*amount)
	}
	w.pointLogs = append(w.pointLogs, entry)
}

func (w *fakeWorld) Freeze(_ context.Context, userID, orderID string, n int64) error {
	if err := w.fail("Freeze"); err != nil {
		return err
	}
	a := w.accounts[userID]
	if a.Points < n {
		return fmt.Errorf("%w: user %s", domain.ErrInsufficientPoints, userID)
	}
	a.Points -= n
	a.FrozenPoints += n
	w.accounts[userID] = a
	w.log(userID, orderID, domain.PointLogFreeze, n, nil)
	return nil
}

func (w *fakeWorld) Unfreeze(_ context.Context, userID, orderID string, n int64) error {
	a := w.accounts[userID]
	a.Points += n
	a.FrozenPoints -= n
	w.accounts[userID] = a
	w.log(userID, orderID, domain.PointLogUnfreeze, n, nil)
	return nil
}

func (w *fakeWorld) Redeem(_ context.Context, userID, orderID string, n int64) error {
	a := w.accounts[userID]
	a.FrozenPoints -= n
	w.accounts[userID] = a
	w.log(userID, orderID, domain.PointLogRedeem, n, nil)
	return nil
}

func (w *fakeWorld) Earn(_ context.Context, userID, orderID string, n int64, amount decimal.Decimal) error {
	a := w.accounts[userID]
	a.Points += n
	w.accounts[userID] = a
	w.log(userID, orderID, domain.PointLogEarn, n, &amount)
	return nil
}

func (w *fakeWorld) Commission(_ context.Context, referrerID, orderID string, n int64, amount decimal.Decimal) error {
	a := w.accounts[referrerID]
	a.Points += n
	w.accounts[referrerID] = a
	w.log(referrerID, orderID, domain.PointLogCommission, n, &amount)
	return nil
}

func (w *fakeWorld) AddSpend(_ context.Context, userID string, amount decimal.Decimal) error {
	a := w.accounts[userID]
	a.TotalSpend = a.TotalSpend.Add(amount)
	w.accounts[userID] = a
	return nil
}

func (w *fakeWorld) logsFor(orderID string, kind domain.PointLogKind) []domain.PointLog {
	var out []domain.PointLog
	for _, l := range w.pointLogs {
		if l.OrderID == orderID && l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// CouponLedger

func (w *fakeWorld) Find(_ context.Context, couponID, userID string) (domain.UserCoupon, error) {
	c, ok := w.coupons[couponID]
	if !ok || c.UserID != userID {
		return domain.UserCoupon{}, fmt.Errorf("%w: %s", domain.ErrCouponNotFound, couponID)
	}
	return c, nil
}

func (w *fakeWorld) Lock(_ context.Context, couponID, userID, orderID string) error {
	if err := w.fail("Lock"); err != nil {
		return err
	}
	c := w.coupons[couponID]
	if c.UserID != userID || !c.Usable(w.now) {
		return fmt.Errorf("%w: %s", domain.ErrCouponUnavailable, couponID)
	}
	c.OrderID = orderID
	w.coupons[couponID] = c
	return nil
}

func (w *fakeWorld) Unlock(_ context.Context, orderID string) error {
	for id, c := range w.coupons {
		if c.OrderID == orderID && c.Status == domain.CouponAvailable {
			c.OrderID = ""
			w.coupons[id] = c
		}
	}
	return nil
}

func (w *fakeWorld) MarkUsed(_ context.Context, orderID string) error {
	for id, c := range w.coupons {
		if c.OrderID == orderID && c.Status == domain.CouponAvailable {
			now := w.now
			c.Status = domain.CouponUsed
			c.UsedAt = &now
			w.coupons[id] = c
		}
	}
	return nil
}

// Catalog

func (w *fakeWorld) BeadsByIDs(_ context.Context, ids []string) (map[string]domain.Bead, error) {
	out := map[string]domain.Bead{}
	for _, id := range ids {
		if b, ok := w.beads[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (w *fakeWorld) BeadsByDiameter(_ context.Context, diameter decimal.Decimal) ([]domain.Bead, error) {
	var out []domain.Bead
	for _, b := range w.beads {
		if b.DiameterMM.Equal(diameter) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (w *fakeWorld) AddOnsByIDs(_ context.Context, ids []string) (map[string]domain.AddOnProduct, error) {
	out := map[string]domain.AddOnProduct{}
	for _, id := range ids {
		if p, ok := w.addOns[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Logistics

func (w *fakeWorld) Append(_ context.Context, e domain.LogisticsEvent) error {
	for _, existing := range w.events {
		if existing.OrderID == e.OrderID && existing.DedupKey() == e.DedupKey() {
			return nil
		}
	}
	w.events = append(w.events, e)
	return nil
}

func (w *fakeWorld) Sync(_ context.Context, o *domain.Order) ([]domain.LogisticsEvent, error) {
	var out []domain.LogisticsEvent
	for _, e := range w.events {
		if e.OrderID == o.ID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ParamsProvider

func (w *fakeWorld) Current(context.Context) (domain.BusinessParams, error) {
	return w.params, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) types() []domain.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationType, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Type)
	}
	return out
}

var errInjected = errors.New("injected failure")

func newTestService(t *testing.T, w *fakeWorld, n Notifier) *Service {
	t.Helper()

	svc, err := NewService(Deps{
		Orders:     w,
		Addresses:  w,
		Inventory:  w,
		Points:     w,
		Coupons:    w,
		Catalog:    w,
		Logistics:  w,
		Params:     w,
		Notifier:   n,
		UnitOfWork: w,
		Config: config.OrdersConfig{
			PaymentWindow:   30 * time.Minute,
			DuplicateWindow: 30 * time.Second,
			RateLimitWindow: 60 * time.Second,
			RateLimitMax:    5,
		},
		Clock:  w.clock,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc
}
