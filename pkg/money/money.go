package money

import "math"

// ToMinorUnits converts a decimal price (e.g. 4.99) into integer minor
// currency units (pence/cents), rounding half-up on the minor-unit boundary:
// 4.995 -> 500, 5.004 -> 500.
//
// The price is first snapped to millis to absorb float64 representation noise
// (4.995*100 is 499.4999... in float64), then rounded half-up to minor units.
func ToMinorUnits(price float64) int64 {
	millis := int64(math.Round(price * 1000))
	if millis >= 0 {
		return (millis + 5) / 10
	}
	return -((-millis + 5) / 10)
}

// ChargeAmount is the total to charge for n spots at the given price.
func ChargeAmount(price float64, spots int) int64 {
	return ToMinorUnits(price) * int64(spots)
}
