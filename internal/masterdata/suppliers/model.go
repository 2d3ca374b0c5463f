package suppliers

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Supplier represents a vendor purchase orders are placed with.
type Supplier struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ContactName string    `json:"contactName"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Input carries create and update payloads. On update nil fields are left unchanged.
type Input struct {
	Name        *string
	ContactName *string
	Email       *string
	Phone       *string
	Address     *string
	Active      *bool
}

// ErrSupplierNotFound indicates an unknown supplier id.
var ErrSupplierNotFound = fmt.Errorf("supplier %w", shared.ErrNotFound)
