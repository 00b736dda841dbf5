package signal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// StandardMultiplier converts a raw price delta into pips for four decimal
// FX quotes.
var StandardMultiplier = decimal.NewFromInt(10000)

var (
	pipStandard = decimal.New(1, -4)
	pipJPY      = decimal.New(1, -2)
	pipGold     = decimal.New(1, -1)
	pipSilver   = decimal.New(1, -2)
	pipWhole    = decimal.NewFromInt(1)
)

var cryptoBases = []string{"BTC", "ETH", "SOL", "XRP", "LTC", "BNB", "ADA", "DOGE", "DOT", "AVAX", "LINK"}

// Calculate returns the signed pip delta using the fixed x10000 scale.
// A BUY gains when price rises, a SELL when it falls.
func Calculate(dir Direction, entry, closePrice decimal.Decimal) decimal.Decimal {
	return delta(dir, entry, closePrice).Mul(StandardMultiplier)
}

// CalculateForPair is Calculate with the pip size of the instrument, rounded
// to one decimal place.
func CalculateForPair(pair string, dir Direction, entry, closePrice decimal.Decimal) decimal.Decimal {
	return delta(dir, entry, closePrice).Div(PipSize(pair)).Round(1)
}

func delta(dir Direction, entry, closePrice decimal.Decimal) decimal.Decimal {
	if dir == Sell {
		return entry.Sub(closePrice)
	}
	return closePrice.Sub(entry)
}

// PipSize returns the price increment counted as one pip for pair.
func PipSize(pair string) decimal.Decimal {
	p := normalizePair(pair)

	switch {
	case strings.Contains(p, "XAU"):
		return pipGold
	case strings.Contains(p, "XAG"):
		return pipSilver
	}

	for _, base := range cryptoBases {
		if strings.HasPrefix(p, base) {
			return pipWhole
		}
	}

	if isCurrencyPair(p) {
		if strings.Contains(p, "JPY") {
			return pipJPY
		}
		return pipStandard
	}

	return pipWhole
}

func normalizePair(pair string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToUpper(pair))
}

func isCurrencyPair(p string) bool {
	if len(p) != 6 {
		return false
	}
	for _, r := range p {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// RiskReward is reward over risk rounded to two places. Zero risk yields zero.
func RiskReward(dir Direction, entry, stopLoss, takeProfit decimal.Decimal) decimal.Decimal {
	var risk, reward decimal.Decimal
	if dir == Sell {
		risk = stopLoss.Sub(entry)
		reward = entry.Sub(takeProfit)
	} else {
		risk = entry.Sub(stopLoss)
		reward = takeProfit.Sub(entry)
	}

	if risk.IsZero() {
		return decimal.Zero
	}
	return reward.Div(risk).Round(2)
}
