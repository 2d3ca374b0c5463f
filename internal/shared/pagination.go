package shared

const (
	// DefaultLimit applies when a list request omits limit.
	DefaultLimit = 20
	// MaxLimit caps list page size.
	MaxLimit = 200
)

// Page holds offset pagination input.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps limit and offset into the supported range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Meta is returned alongside list payloads.
type Meta struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// NewMeta computes list metadata.
func NewMeta(page Page, total int) Meta {
	page = page.Normalize()
	return Meta{Total: total, Offset: page.Offset, Limit: page.Limit}
}
