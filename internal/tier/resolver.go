package tier

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Resolution is the tier a night count maps to and the distance to the next one.
type Resolution struct {
	Tier            Tier
	Level           int
	Next            *Tier
	NightsToNext    *int
	ProgressPercent float64
}

// Resolve maps totalNights onto the catalog. The catalog does not need to be
// sorted. Progress is rounded to two decimals and clamped to [0, 100]; the top
// tier always reports 100.
func Resolve(catalog []Tier, totalNights int) (Resolution, error) {
	if len(catalog) == 0 {
		return Resolution{}, ErrEmptyCatalog
	}
	sorted := Sorted(catalog)
	if sorted[0].MinNights > totalNights {
		return Resolution{}, configErr("no tier covers %d nights", totalNights)
	}

	idx := 0
	for i, t := range sorted {
		if t.MinNights <= totalNights {
			idx = i
		}
	}

	res := Resolution{Tier: sorted[idx], Level: idx + 1, ProgressPercent: 100}
	if idx == len(sorted)-1 {
		return res, nil
	}

	next := sorted[idx+1]
	remaining := next.MinNights - totalNights
	res.Next = &next
	res.NightsToNext = &remaining
	res.ProgressPercent = progress(totalNights, res.Tier.MinNights, next.MinNights)
	return res, nil
}

func progress(nights, floor, ceiling int) float64 {
	span := ceiling - floor
	if span <= 0 {
		return 100
	}
	pct := decimal.NewFromInt(int64(nights - floor)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(span)))
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	return pct.Round(2).InexactFloat64()
}
