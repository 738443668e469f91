package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict marks lock-wait timeouts and serialization failures.
	// The whole checkout may be retried from scratch; nothing was committed.
	ErrConflict = errors.New("checkout conflict, retry")

	ErrOrderNotFound = errors.New("order not found")
)

// BookUnavailableError: the book was removed or soft-deleted after the cart
// snapshot was taken.
type BookUnavailableError struct {
	BookID int64
	Title  string
}

func (e *BookUnavailableError) Error() string {
	return fmt.Sprintf("book %q is no longer available", e.Title)
}

type InsufficientStockError struct {
	BookID    int64
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.Title, e.Available, e.Requested)
}

// PriceChangedError: the catalog price no longer matches the price captured
// in the cart. The client must refresh the cart and retry.
type PriceChangedError struct {
	BookID       int64
	Title        string
	CartCents    int
	CurrentCents int
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price has changed for %q, refresh your cart", e.Title)
}

// IsBusinessError reports whether err is a validation failure the client
// must resolve, as opposed to retryable contention or a storage fault.
func IsBusinessError(err error) bool {
	var bu *BookUnavailableError
	var is *InsufficientStockError
	var pc *PriceChangedError
	return errors.As(err, &bu) || errors.As(err, &is) || errors.As(err, &pc)
}
