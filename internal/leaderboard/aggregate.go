// Package leaderboard ranks signal authors by their closed official signals
// and computes per-trader analytics.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMinCompletedSignals is how many won or lost signals an author
	// needs before appearing on the leaderboard.
	DefaultMinCompletedSignals = 5
	DefaultTopN                = 10
)

type SortKey string

const (
	SortWinRate      SortKey = "winRate"
	SortTotalSignals SortKey = "totalSignals"
	SortTotalPips    SortKey = "totalPips"
)

func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.TrimSpace(s)); k {
	case "":
		return SortWinRate, nil
	case SortWinRate, SortTotalSignals, SortTotalPips:
		return k, nil
	}
	return "", fmt.Errorf("invalid sort key %q", s)
}

type Period string

const (
	PeriodAll   Period = "all"
	PeriodMonth Period = "month"
	PeriodWeek  Period = "week"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAll, nil
	case PeriodAll, PeriodMonth, PeriodWeek:
		return p, nil
	}
	return "", fmt.Errorf("invalid period %q", s)
}

// Since returns the earliest signal creation time included by the period,
// or the zero time for PeriodAll.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	}
	return time.Time{}
}

type TraderSummary struct {
	Rank         int             `json:"rank"`
	Username     string          `json:"username"`
	TotalSignals int             `json:"totalSignals"`
	Won          int             `json:"won"`
	Lost         int             `json:"lost"`
	Pending      int             `json:"pending"`
	WinRate      decimal.Decimal `json:"winRate"`
	TotalPips    decimal.Decimal `json:"totalPips"`
}

func (s TraderSummary) Completed() int {
	return s.Won + s.Lost
}

type Options struct {
	MinCompletedSignals int
	SortBy              SortKey
	// Limit of zero or less means unbounded.
	Limit int
}

var hundred = decimal.NewFromInt(100)

// WinRate is won/(won+lost) as a percentage rounded half-up to one decimal.
func WinRate(won, lost int) decimal.Decimal {
	completed := won + lost
	if completed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(won)).
		Mul(hundred).
		DivRound(decimal.NewFromInt(int64(completed)), 1)
}

func summarize(rows []database.SignalMetadata) map[string]*TraderSummary {
	byAuthor := make(map[string]*TraderSummary)
	for _, row := range rows {
		s, ok := byAuthor[row.AuthorUsername]
		if !ok {
			s = &TraderSummary{Username: row.AuthorUsername, TotalPips: decimal.Zero}
			byAuthor[row.AuthorUsername] = s
		}

		s.TotalSignals++
		switch row.Outcome {
		case "win":
			s.Won++
		case "loss":
			s.Lost++
		default:
			s.Pending++
		}
		s.TotalPips = s.TotalPips.Add(row.PipsGained)
	}

	for _, s := range byAuthor {
		s.WinRate = WinRate(s.Won, s.Lost)
	}
	return byAuthor
}

// Compute groups rows by author, drops authors below the completed-signal
// threshold and returns the remaining summaries ranked by opts.SortBy.
func Compute(rows []database.SignalMetadata, opts Options) []TraderSummary {
	result := make([]TraderSummary, 0)
	for _, s := range summarize(rows) {
		if s.Completed() < opts.MinCompletedSignals {
			continue
		}
		result = append(result, *s)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if c := compare(a, b, opts.SortBy); c != 0 {
			return c > 0
		}
		if a.Completed() != b.Completed() {
			return a.Completed() > b.Completed()
		}
		return a.Username < b.Username
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	for i := range result {
		result[i].Rank = i + 1
	}

	return result
}

func compare(a, b TraderSummary, key SortKey) int {
	switch key {
	case SortTotalSignals:
		return a.TotalSignals - b.TotalSignals
	case SortTotalPips:
		return a.TotalPips.Cmp(b.TotalPips)
	default:
		return a.WinRate.Cmp(b.WinRate)
	}
}
