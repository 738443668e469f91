package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo implements Store on Postgres. Checkout transactions run serializable
// with a bounded lock wait; 40001/40P01/55P03 surface as ErrConflict so
// callers know to retry the whole operation.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockBooks(ctx context.Context, ids []int64) (map[int64]Book, error) {
	// ORDER BY id fixes the lock acquisition order; ids arrive pre-sorted
	// but the row locks are taken in scan order regardless.
	rows, err := t.tx.Query(ctx, `
		SELECT id, title, author, price_cents, stock, sold_count, is_deleted
		FROM books
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[int64]Book, len(ids))
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.PriceCents, &b.Stock, &b.SoldCount, &b.IsDeleted); err != nil {
			return nil, err
		}
		out[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO checkouts(user_id, reference_number, total_cents, payment_status, payment_method)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		o.UserID, o.ReferenceNumber, o.TotalCents, o.PaymentStatus, o.PaymentMethod,
	).Scan(&o.ID, &o.CreatedAt)
	return classify(err)
}

func (t *pgTx) InsertLines(ctx context.Context, lines []OrderLine) error {
	for i := range lines {
		err := t.tx.QueryRow(ctx, `
			INSERT INTO checkout_lines(checkout_id, book_id, title, author, quantity, price_cents, subtotal_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			lines[i].OrderID, lines[i].BookID, lines[i].Title, lines[i].Author,
			lines[i].Quantity, lines[i].PriceCents, lines[i].SubtotalCents,
		).Scan(&lines[i].ID)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *pgTx) AdjustStock(ctx context.Context, bookID int64, stockDelta, soldDelta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE books
		SET stock = stock + $2, sold_count = sold_count + $3, updated_at = now()
		WHERE id = $1`, bookID, stockDelta, soldDelta)
	if err != nil {
		return classify(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("adjust stock: book %d not found", bookID)
	}
	return nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, ref string) (*Order, []OrderLine, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, reference_number, total_cents, payment_status, payment_method,
		       COALESCE(payment_reference_number, ''), created_at
		FROM checkouts
		WHERE reference_number = $1
		FOR UPDATE`, ref,
	).Scan(&o.ID, &o.UserID, &o.ReferenceNumber, &o.TotalCents, &o.PaymentStatus,
		&o.PaymentMethod, &o.PaymentReference, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, classify(err)
	}

	lines, err := scanLines(ctx, t.tx, o.ID)
	if err != nil {
		return nil, nil, err
	}
	return &o, lines, nil
}

func (t *pgTx) SetPaymentResult(ctx context.Context, orderID int64, status Status, gatewayRef string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE checkouts
		SET payment_status = $2, payment_reference_number = $3
		WHERE id = $1`, orderID, status, gatewayRef)
	return classify(err)
}

func (t *pgTx) Commit(ctx context.Context) error   { return classify(t.tx.Commit(ctx)) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (r *Repo) OrderByReference(ctx context.Context, ref string) (*Order, []OrderLine, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, reference_number, total_cents, payment_status, payment_method,
		       COALESCE(payment_reference_number, ''), created_at
		FROM checkouts
		WHERE reference_number = $1`, ref,
	).Scan(&o.ID, &o.UserID, &o.ReferenceNumber, &o.TotalCents, &o.PaymentStatus,
		&o.PaymentMethod, &o.PaymentReference, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	lines, err := scanLines(ctx, r.DB, o.ID)
	if err != nil {
		return nil, nil, err
	}
	return &o, lines, nil
}

func (r *Repo) OrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM checkouts WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, reference_number, total_cents, payment_status, payment_method,
		       COALESCE(payment_reference_number, ''), created_at
		FROM checkouts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ReferenceNumber, &o.TotalCents, &o.PaymentStatus,
			&o.PaymentMethod, &o.PaymentReference, &o.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *Repo) OrderDetail(ctx context.Context, userID, orderID int64) (*Order, []OrderLine, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, reference_number, total_cents, payment_status, payment_method,
		       COALESCE(payment_reference_number, ''), created_at
		FROM checkouts
		WHERE id = $1 AND user_id = $2`, orderID, userID,
	).Scan(&o.ID, &o.UserID, &o.ReferenceNumber, &o.TotalCents, &o.PaymentStatus,
		&o.PaymentMethod, &o.PaymentReference, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	lines, err := scanLines(ctx, r.DB, o.ID)
	if err != nil {
		return nil, nil, err
	}
	return &o, lines, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanLines(ctx context.Context, q querier, orderID int64) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, checkout_id, book_id, title, author, quantity, price_cents, subtotal_cents
		FROM checkout_lines
		WHERE checkout_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.BookID, &l.Title, &l.Author,
			&l.Quantity, &l.PriceCents, &l.SubtotalCents); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// classify maps contention SQLSTATEs and deadline expiry to ErrConflict.
// 23505 on the reference number is also retryable: a fresh attempt draws a
// new reference.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return errors.Join(ErrConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrConflict, err)
	}
	return err
}
