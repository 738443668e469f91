package checkout

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/bookbarn/checkout/internal/cart"
	"github.com/bookbarn/checkout/internal/refnum"
)

const (
	// Hard wall-clock bound for the whole checkout transaction. The lock
	// wait inside it is bounded separately (SET LOCAL lock_timeout).
	txTimeout = 10 * time.Second

	clearTimeout = 2 * time.Second
)

// Service converts a cart into an order: lock, validate, write, decrement,
// all inside one serializable transaction.
type Service struct {
	Store Store
	Cart  cart.Provider
}

// CreateCheckout validates every cart line against the locked inventory
// rows and commits order + lines + stock deltas atomically. Any violation
// rolls back the whole thing; partial checkouts never exist.
func (s *Service) CreateCheckout(ctx context.Context, userID int64, paymentMethod string) (*Order, []OrderLine, error) {
	snap, err := s.Cart.SnapshotForCheckout(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Aggregate demand per book first: the cart normally holds one line
	// per book, but if it doesn't, the stock check must see the sum.
	need := make(map[int64]int, len(snap.Lines))
	for _, line := range snap.Lines {
		need[line.BookID] += line.Quantity
	}

	// Sorted ids keep lock acquisition ordered across concurrent
	// checkouts that share books, so no circular wait can form.
	ids := make([]int64, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	books, err := tx.LockBooks(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	total := 0
	for _, line := range snap.Lines {
		b, ok := books[line.BookID]
		if !ok || b.IsDeleted {
			return nil, nil, &BookUnavailableError{BookID: line.BookID, Title: line.Title}
		}
		if b.Stock < need[line.BookID] {
			return nil, nil, &InsufficientStockError{
				BookID:    line.BookID,
				Title:     b.Title,
				Requested: need[line.BookID],
				Available: b.Stock,
			}
		}
		// Exact integer-cent equality; a price edit between cart and
		// checkout invalidates the snapshot.
		if b.PriceCents != line.PriceCents {
			return nil, nil, &PriceChangedError{
				BookID:       line.BookID,
				Title:        b.Title,
				CartCents:    line.PriceCents,
				CurrentCents: b.PriceCents,
			}
		}
		total += b.PriceCents * line.Quantity
	}

	order := &Order{
		UserID:          userID,
		ReferenceNumber: refnum.Generate(),
		TotalCents:      total,
		PaymentStatus:   StatusPending,
		PaymentMethod:   paymentMethod,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	lines := make([]OrderLine, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		b := books[line.BookID]
		lines = append(lines, OrderLine{
			OrderID:       order.ID,
			BookID:        line.BookID,
			Title:         b.Title,
			Author:        b.Author,
			Quantity:      line.Quantity,
			PriceCents:    b.PriceCents,
			SubtotalCents: b.PriceCents * line.Quantity,
		})
	}
	if err := tx.InsertLines(ctx, lines); err != nil {
		return nil, nil, err
	}

	for _, id := range ids {
		if err := tx.AdjustStock(ctx, id, -need[id], need[id]); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	// Post-commit, best effort. The order stands even if this fails; the
	// clear is idempotent and safe to retry later.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer ccancel()
	if err := s.Cart.Clear(cctx, userID); err != nil {
		log.Printf("clear cart user=%d order=%s: %v", userID, order.ReferenceNumber, err)
	}

	return order, lines, nil
}

func (s *Service) GetByReference(ctx context.Context, ref string) (*Order, []OrderLine, error) {
	if !refnum.IsValid(ref) {
		return nil, nil, ErrOrderNotFound
	}
	return s.Store.OrderByReference(ctx, ref)
}

func (s *Service) ListUserCheckouts(ctx context.Context, userID int64, page, limit int) ([]Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return s.Store.OrdersByUser(ctx, userID, limit, (page-1)*limit)
}

func (s *Service) GetCheckout(ctx context.Context, userID, orderID int64) (*Order, []OrderLine, error) {
	return s.Store.OrderDetail(ctx, userID, orderID)
}
