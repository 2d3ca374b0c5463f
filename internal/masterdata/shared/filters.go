package shared

import (
	"strconv"
	"strings"
)

// SortDesc selects descending order; anything else sorts ascending.
const SortDesc = "desc"

// ListFilters represents standard registry list filters.
type ListFilters struct {
	Limit    int
	Offset   int
	Search   string
	SortBy   string
	SortDir  string
	IsActive *bool
}

// Where builds a tenant scoped WHERE clause over the registry columns
// active and name_key. search is matched against the folded name.
func (f ListFilters) Where(tenantID string, foldedSearch string) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		clauses = append(clauses, "active = $"+strconv.Itoa(len(args)))
	}
	if foldedSearch != "" {
		args = append(args, "%"+foldedSearch+"%")
		clauses = append(clauses, "name_key LIKE $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// OrderBy maps SortBy onto one of the allowed columns, falling back to name.
func (f ListFilters) OrderBy(allowed ...string) string {
	dir := "ASC"
	if strings.EqualFold(f.SortDir, SortDesc) {
		dir = "DESC"
	}
	col := "name_key"
	for _, a := range allowed {
		if f.SortBy == a {
			col = a
			break
		}
	}
	return col + " " + dir + ", id " + dir
}
