package locations

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Location is a place a tenant keeps stock in.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsDefault bool      `json:"isDefault"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput captures a new location.
type CreateInput struct {
	Name      string
	Address   string
	IsDefault bool
	Active    *bool
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name    *string
	Address *string
	Active  *bool
}

// ErrLocationNotFound indicates an unknown location id.
var ErrLocationNotFound = fmt.Errorf("location %w", shared.ErrNotFound)

// ErrNoDefault indicates the tenant has no locations yet.
var ErrNoDefault = fmt.Errorf("default location %w", shared.ErrNotFound)
