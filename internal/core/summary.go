package core

import "github.com/shopspring/decimal"

// MonthTotal is the income total of one calendar month (1-12).
type MonthTotal struct {
	Month int
	Total Money
}

// SourceShare is one source's slice of a month's income.
type SourceShare struct {
	SourceID   int64
	SourceName string
	Total      Money
	Percentage float64 // 0-100, two decimals
}

// YearTotal is the income total of one calendar year.
type YearTotal struct {
	Year  int
	Total Money
}

// FillYear expands sparse per-month sums into twelve entries, zero-filling
// months without income.
func FillYear(sums map[int]int64) []MonthTotal {
	out := make([]MonthTotal, 12)
	for m := 1; m <= 12; m++ {
		out[m-1] = MonthTotal{Month: m, Total: Money{Cents: sums[m]}}
	}
	return out
}

// ApplyPercentages fills Percentage on each share relative to the sum of all
// shares. An empty or all-zero set leaves every percentage at zero.
func ApplyPercentages(shares []SourceShare) []SourceShare {
	var grand int64
	for _, s := range shares {
		grand += s.Total.Cents
	}
	if grand == 0 {
		return shares
	}
	hundred := decimal.NewFromInt(100)
	g := decimal.NewFromInt(grand)
	for i := range shares {
		pct := decimal.NewFromInt(shares[i].Total.Cents).Mul(hundred).Div(g).Round(2)
		shares[i].Percentage, _ = pct.Float64()
	}
	return shares
}
