package checkout

import "context"

// Store is the transactional seam between the orchestrator/reconciler and
// Postgres. The pgx implementation lives in repo.go; tests use the
// in-memory store from the checkouttest package.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	OrderByReference(ctx context.Context, ref string) (*Order, []OrderLine, error)
	OrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int, error)
	OrderDetail(ctx context.Context, userID, orderID int64) (*Order, []OrderLine, error)
}

// Tx is one database transaction. Lock-taking methods may block on
// contended rows; the bounded wait comes from the transaction's lock
// timeout plus the caller's context deadline.
type Tx interface {
	// LockBooks acquires exclusive row locks on the given books in
	// ascending id order and returns the locked rows. Missing ids are
	// simply absent from the result.
	LockBooks(ctx context.Context, ids []int64) (map[int64]Book, error)

	InsertOrder(ctx context.Context, o *Order) error
	InsertLines(ctx context.Context, lines []OrderLine) error

	// AdjustStock applies stock/sold_count deltas to one locked book row.
	AdjustStock(ctx context.Context, bookID int64, stockDelta, soldDelta int) error

	// OrderForUpdate locks the order row so concurrent reconciliations of
	// the same order serialize. ErrOrderNotFound when the reference is
	// unknown.
	OrderForUpdate(ctx context.Context, ref string) (*Order, []OrderLine, error)

	SetPaymentResult(ctx context.Context, orderID int64, status Status, gatewayRef string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
