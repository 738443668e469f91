package checkout

import "time"

// Book is the inventory row. Stock and SoldCount change only inside a
// checkout or reconcile transaction, under a row lock.
type Book struct {
	ID         int64
	Title      string
	Author     string
	PriceCents int
	Stock      int
	SoldCount  int
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order is the immutable result of converting a cart. PaymentStatus moves
// PENDING -> PAID or PENDING -> FAILED exactly once; rows are never deleted.
type Order struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	ReferenceNumber  string    `json:"reference_number"`
	TotalCents       int       `json:"total_cents"`
	PaymentStatus    Status    `json:"payment_status"`
	PaymentMethod    string    `json:"payment_method"`
	PaymentReference string    `json:"payment_reference_number,omitempty"` // gateway id, empty until settled
	CreatedAt        time.Time `json:"created_at"`
}

// OrderLine captures quantity and price at purchase time. Title/author are
// denormalized so the line stays readable after catalog edits.
type OrderLine struct {
	ID            int64  `json:"id"`
	OrderID       int64  `json:"order_id"`
	BookID        int64  `json:"book_id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Quantity      int    `json:"quantity"`
	PriceCents    int    `json:"price_cents"`
	SubtotalCents int    `json:"subtotal_cents"`
}

var PaymentMethods = map[string]bool{
	"CREDIT_CARD":   true,
	"BANK_TRANSFER": true,
	"E_WALLET":      true,
	"CASH":          true,
}
