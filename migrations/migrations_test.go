package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamesSorted(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.Equal(t, []string{
		"0001_locations_suppliers.sql",
		"0002_inventory.sql",
		"0003_purchase_orders_transfers.sql",
	}, names)
}

func TestSchemaCarriesLedgerInvariants(t *testing.T) {
	body, err := files.ReadFile("0002_inventory.sql")
	require.NoError(t, err)
	schema := string(body)
	for _, constraint := range []string{
		"inventory_item_reserved_check",
		"inventory_movement_delta_check",
		"reservation_key",
		"inventory_movement_append_only",
	} {
		require.True(t, strings.Contains(schema, constraint), constraint)
	}
}
