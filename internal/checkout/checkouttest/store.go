// Package checkouttest provides an in-memory checkout.Store with real
// exclusive-lock semantics: a transaction holds the store lock from its
// first lock-taking call until commit or rollback, so concurrent checkout
// tests observe the same serialization the row locks give in Postgres.
package checkouttest

import (
	"context"
	"sync"
	"time"

	"github.com/bookbarn/checkout/internal/checkout"
)

type Store struct {
	mu     sync.Mutex
	books  map[int64]checkout.Book
	orders map[int64]checkout.Order
	byRef  map[string]int64
	lines  map[int64][]checkout.OrderLine
	nextID int64
}

func NewStore(books ...checkout.Book) *Store {
	s := &Store{
		books:  make(map[int64]checkout.Book),
		orders: make(map[int64]checkout.Order),
		byRef:  make(map[string]int64),
		lines:  make(map[int64][]checkout.OrderLine),
	}
	for _, b := range books {
		s.books[b.ID] = b
	}
	return s
}

// Book returns a copy of the current inventory row.
func (s *Store) Book(id int64) (checkout.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	return b, ok
}

// Order returns a copy of the order with the given reference.
func (s *Store) Order(ref string) (checkout.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return checkout.Order{}, false
	}
	return s.orders[id], true
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Begin(ctx context.Context) (checkout.Tx, error) {
	return &tx{s: s}, nil
}

type delta struct {
	bookID      int64
	stock, sold int
}

type tx struct {
	s      *Store
	locked bool
	done   bool

	// staged writes, applied on Commit
	order     *checkout.Order
	lines     []checkout.OrderLine
	deltas    []delta
	payOrder  int64
	payStatus checkout.Status
	payRef    string
	paySet    bool
}

func (t *tx) lock() {
	if !t.locked {
		t.s.mu.Lock()
		t.locked = true
	}
}

func (t *tx) LockBooks(ctx context.Context, ids []int64) (map[int64]checkout.Book, error) {
	t.lock()
	out := make(map[int64]checkout.Book, len(ids))
	for _, id := range ids {
		if b, ok := t.s.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *checkout.Order) error {
	t.lock()
	t.s.nextID++
	o.ID = t.s.nextID
	o.CreatedAt = time.Now()
	cp := *o
	t.order = &cp
	return nil
}

func (t *tx) InsertLines(ctx context.Context, lines []checkout.OrderLine) error {
	t.lock()
	for i := range lines {
		t.s.nextID++
		lines[i].ID = t.s.nextID
	}
	t.lines = append(t.lines, lines...)
	return nil
}

func (t *tx) AdjustStock(ctx context.Context, bookID int64, stockDelta, soldDelta int) error {
	t.lock()
	t.deltas = append(t.deltas, delta{bookID: bookID, stock: stockDelta, sold: soldDelta})
	return nil
}

func (t *tx) OrderForUpdate(ctx context.Context, ref string) (*checkout.Order, []checkout.OrderLine, error) {
	t.lock()
	id, ok := t.s.byRef[ref]
	if !ok {
		return nil, nil, checkout.ErrOrderNotFound
	}
	o := t.s.orders[id]
	lines := append([]checkout.OrderLine(nil), t.s.lines[id]...)
	return &o, lines, nil
}

func (t *tx) SetPaymentResult(ctx context.Context, orderID int64, status checkout.Status, gatewayRef string) error {
	t.lock()
	t.payOrder = orderID
	t.payStatus = status
	t.payRef = gatewayRef
	t.paySet = true
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.lock()
	defer t.unlock()

	if t.order != nil {
		t.s.orders[t.order.ID] = *t.order
		t.s.byRef[t.order.ReferenceNumber] = t.order.ID
	}
	for _, l := range t.lines {
		t.s.lines[l.OrderID] = append(t.s.lines[l.OrderID], l)
	}
	for _, d := range t.deltas {
		b := t.s.books[d.bookID]
		b.Stock += d.stock
		b.SoldCount += d.sold
		t.s.books[d.bookID] = b
	}
	if t.paySet {
		o := t.s.orders[t.payOrder]
		o.PaymentStatus = t.payStatus
		o.PaymentReference = t.payRef
		t.s.orders[t.payOrder] = o
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.unlock()
	return nil
}

func (t *tx) unlock() {
	if t.locked {
		t.locked = false
		t.s.mu.Unlock()
	}
}

func (s *Store) OrderByReference(ctx context.Context, ref string) (*checkout.Order, []checkout.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, nil, checkout.ErrOrderNotFound
	}
	o := s.orders[id]
	return &o, append([]checkout.OrderLine(nil), s.lines[id]...), nil
}

func (s *Store) OrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]checkout.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []checkout.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *Store) OrderDetail(ctx context.Context, userID, orderID int64) (*checkout.Order, []checkout.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, nil, checkout.ErrOrderNotFound
	}
	return &o, append([]checkout.OrderLine(nil), s.lines[orderID]...), nil
}
