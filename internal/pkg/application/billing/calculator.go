package billing

import (
	"github.com/shopspring/decimal"
)

type Config struct {
	IncludedGB  float64 `yaml:"includedGB"`
	OverageRate float64 `yaml:"overageRate"`
}

func DefaultConfig() Config {
	return Config{
		IncludedGB:  100,
		OverageRate: 10,
	}
}

// Calculator prices a billing period: the plan price plus a per GB rate for usage
// above the included allowance.
type Calculator struct {
	includedGB  decimal.Decimal
	overageRate decimal.Decimal
}

func NewCalculator(cfg Config) Calculator {
	d := DefaultConfig()

	if cfg.IncludedGB <= 0 {
		cfg.IncludedGB = d.IncludedGB
	}
	if cfg.OverageRate <= 0 {
		cfg.OverageRate = d.OverageRate
	}

	return Calculator{
		includedGB:  decimal.NewFromFloat(cfg.IncludedGB),
		overageRate: decimal.NewFromFloat(cfg.OverageRate),
	}
}

func (c Calculator) Amount(price decimal.Decimal, totalGB float64) decimal.Decimal {
	overage := decimal.NewFromFloat(totalGB).Sub(c.includedGB)
	if overage.IsNegative() {
		overage = decimal.Zero
	}

	return price.Add(overage.Mul(c.overageRate)).Round(2)
}
