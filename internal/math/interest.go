package math

const secondsPerHour = 3600

// AccrueCumulativeInterest advances an interest accumulator by the hourly
// rate applied over elapsedSeconds. Rates are RateDecimals fixed-point.
func AccrueCumulativeInterest(cumulative, hourlyRate uint64, elapsedSeconds int64) (uint64, error) {
	if elapsedSeconds <= 0 || hourlyRate == 0 {
		return cumulative, nil
	}
	accrued, err := MulDiv(uint64(elapsedSeconds), hourlyRate, secondsPerHour, RoundDown)
	if err != nil {
		return 0, err
	}
	return CheckedAdd(cumulative, accrued)
}

// ComputeInterestUSD returns the borrow interest owed on sizeUSD between a
// snapshot of the accumulator and its current value.
func ComputeInterestUSD(cumulative, snapshot, sizeUSD uint64) (uint64, error) {
	if cumulative <= snapshot || sizeUSD == 0 {
		return 0, nil
	}
	return MulDiv(cumulative-snapshot, sizeUSD, RatePower, RoundDown)
}

// ComputeUtilization returns locked/owned in RateDecimals, capped at 100%.
func ComputeUtilization(locked, owned uint64) (uint64, error) {
	if owned == 0 {
		if locked == 0 {
			return 0, nil
		}
		return RatePower, nil
	}
	u, err := MulDiv(locked, RatePower, owned, RoundDown)
	if err != nil {
		return 0, err
	}
	return Min(u, RatePower), nil
}

// ComputeBorrowRate evaluates a two-slope utilization curve. Below the
// optimal utilization the rate climbs along slope1; above it along slope2.
func ComputeBorrowRate(utilization, baseRate, slope1, slope2, optimal uint64) (uint64, error) {
	if optimal == 0 || utilization >= optimal {
		var excess uint64
		if optimal < RatePower && utilization > optimal {
			var err error
			excess, err = MulDiv(utilization-optimal, slope2, RatePower-optimal, RoundDown)
			if err != nil {
				return 0, err
			}
		}
		rate, err := CheckedAdd(baseRate, slope1)
		if err != nil {
			return 0, err
		}
		return CheckedAdd(rate, excess)
	}
	climb, err := MulDiv(utilization, slope1, optimal, RoundDown)
	if err != nil {
		return 0, err
	}
	return CheckedAdd(baseRate, climb)
}
