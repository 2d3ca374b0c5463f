package inventory

import "github.com/shopspring/decimal"

// costScale is the precision of cost_price (NUMERIC(18,4)).
const costScale = 4

// WeightedAverageCost folds a receipt of added units at unitCost into the
// running average. Without a prior cost, or with nothing on hand, the receipt
// cost becomes the new average.
func WeightedAverageCost(onHand int64, current decimal.NullDecimal, added int64, unitCost decimal.Decimal) decimal.Decimal {
	if !current.Valid || onHand <= 0 || onHand+added <= 0 {
		return unitCost.Round(costScale)
	}
	total := current.Decimal.Mul(decimal.NewFromInt(onHand)).Add(unitCost.Mul(decimal.NewFromInt(added)))
	return total.DivRound(decimal.NewFromInt(onHand+added), costScale)
}
