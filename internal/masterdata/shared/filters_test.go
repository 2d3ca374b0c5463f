package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListFiltersWhere(t *testing.T) {
	active := true
	where, args := ListFilters{IsActive: &active}.Where("acme", "main")
	require.Equal(t, "tenant_id = $1 AND active = $2 AND name_key LIKE $3", where)
	require.Equal(t, []any{"acme", true, "%main%"}, args)
}

func TestListFiltersOrderBy(t *testing.T) {
	require.Equal(t, "name_key ASC, id ASC", ListFilters{SortBy: "drop table"}.OrderBy("created_at"))
	require.Equal(t, "created_at DESC, id DESC", ListFilters{SortBy: "created_at", SortDir: "desc"}.OrderBy("created_at"))
}
