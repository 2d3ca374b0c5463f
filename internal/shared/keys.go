package shared

import "fmt"

// StockCacheKey builds the redis key holding a product's aggregated stock level
// at the given cache version.
func StockCacheKey(tenantID string, productID, version int64) string {
	return fmt.Sprintf("stockledger:%s:stock:%d:v%d", tenantID, productID, version)
}

// StockVersionKey builds the redis key holding a product's cache version.
func StockVersionKey(tenantID string, productID int64) string {
	return fmt.Sprintf("stockledger:%s:stock:%d:version", tenantID, productID)
}
