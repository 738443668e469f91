// Package cart exposes the checkout-facing contract of the cart component.
// The cart itself (add/update/remove endpoints) lives elsewhere; this core
// only reads a consistent snapshot at checkout time and clears it after a
// successful commit.
package cart

import (
	"context"
	"errors"
)

var ErrEmpty = errors.New("cart is empty")

type Line struct {
	BookID        int64  `json:"book_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	PriceCents    int    `json:"price_cents"`
	Quantity      int    `json:"quantity"`
	SubtotalCents int    `json:"subtotal_cents"`
}

type Snapshot struct {
	Lines      []Line `json:"lines"`
	TotalCents int    `json:"total_cents"`
}

type Provider interface {
	// SnapshotForCheckout returns the buyer's current cart. ErrEmpty when
	// there is nothing to check out.
	SnapshotForCheckout(ctx context.Context, userID int64) (Snapshot, error)

	// Clear is best-effort and idempotent; it runs after commit, outside
	// the checkout transaction.
	Clear(ctx context.Context, userID int64) error
}
