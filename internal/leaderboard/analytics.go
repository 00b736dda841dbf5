package leaderboard

import (
	"sort"
	"time"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/shopspring/decimal"
)

type Trade struct {
	MessageId  int64           `json:"messageId"`
	Pair       string          `json:"pair"`
	Direction  string          `json:"direction"`
	Outcome    string          `json:"outcome"`
	PipsGained decimal.Decimal `json:"pipsGained"`
}

type PairStats struct {
	Pair      string          `json:"pair"`
	Total     int             `json:"total"`
	Won       int             `json:"won"`
	Lost      int             `json:"lost"`
	WinRate   decimal.Decimal `json:"winRate"`
	TotalPips decimal.Decimal `json:"totalPips"`
}

type TimelinePoint struct {
	MessageId      int64           `json:"messageId"`
	ClosedAt       time.Time       `json:"closedAt"`
	PipsGained     decimal.Decimal `json:"pipsGained"`
	CumulativePips decimal.Decimal `json:"cumulativePips"`
}

type TraderAnalytics struct {
	Username     string          `json:"username"`
	TotalSignals int             `json:"totalSignals"`
	Won          int             `json:"won"`
	Lost         int             `json:"lost"`
	Pending      int             `json:"pending"`
	WinRate      decimal.Decimal `json:"winRate"`
	TotalPips    decimal.Decimal `json:"totalPips"`
	AvgWinPips   decimal.Decimal `json:"avgWinPips"`
	AvgLossPips  decimal.Decimal `json:"avgLossPips"`
	BestTrade    *Trade          `json:"bestTrade,omitempty"`
	WorstTrade   *Trade          `json:"worstTrade,omitempty"`
	Pairs        []PairStats     `json:"pairs"`
	BestPair     string          `json:"bestPair,omitempty"`
	WorstPair    string          `json:"worstPair,omitempty"`
	// CurrentStreak counts the latest run of equal outcomes among closed
	// trades. StreakType is win, loss or none.
	CurrentStreak int             `json:"currentStreak"`
	StreakType    string          `json:"streakType"`
	Timeline      []TimelinePoint `json:"timeline"`
}

const StreakNone = "none"

// Analyze computes the analytics of one author from their signal rows.
// Rows of other authors are ignored.
func Analyze(username string, rows []database.SignalMetadata) TraderAnalytics {
	a := TraderAnalytics{
		Username:    username,
		StreakType:  StreakNone,
		TotalPips:   decimal.Zero,
		AvgWinPips:  decimal.Zero,
		AvgLossPips: decimal.Zero,
		Pairs:       make([]PairStats, 0),
		Timeline:    make([]TimelinePoint, 0),
	}

	var (
		winPips  = decimal.Zero
		lossPips = decimal.Zero
		pairs    = make(map[string]*PairStats)
		closed   []database.SignalMetadata
	)

	for _, row := range rows {
		if row.AuthorUsername != username {
			continue
		}
		a.TotalSignals++

		ps, ok := pairs[row.Signal.Pair]
		if !ok {
			ps = &PairStats{Pair: row.Signal.Pair, TotalPips: decimal.Zero}
			pairs[row.Signal.Pair] = ps
		}
		ps.Total++

		switch row.Outcome {
		case "win":
			a.Won++
			ps.Won++
			winPips = winPips.Add(row.PipsGained)
		case "loss":
			a.Lost++
			ps.Lost++
			lossPips = lossPips.Add(row.PipsGained)
		default:
			a.Pending++
			continue
		}

		a.TotalPips = a.TotalPips.Add(row.PipsGained)
		ps.TotalPips = ps.TotalPips.Add(row.PipsGained)
		closed = append(closed, row)

		t := tradeOf(row)
		if a.BestTrade == nil || t.PipsGained.GreaterThan(a.BestTrade.PipsGained) {
			a.BestTrade = &t
		}
		worst := tradeOf(row)
		if a.WorstTrade == nil || worst.PipsGained.LessThan(a.WorstTrade.PipsGained) {
			a.WorstTrade = &worst
		}
	}

	a.WinRate = WinRate(a.Won, a.Lost)
	if a.Won > 0 {
		a.AvgWinPips = winPips.DivRound(decimal.NewFromInt(int64(a.Won)), 1)
	}
	if a.Lost > 0 {
		a.AvgLossPips = lossPips.DivRound(decimal.NewFromInt(int64(a.Lost)), 1)
	}

	for _, ps := range pairs {
		ps.WinRate = WinRate(ps.Won, ps.Lost)
		a.Pairs = append(a.Pairs, *ps)
	}
	sort.Slice(a.Pairs, func(i, j int) bool {
		if c := a.Pairs[i].TotalPips.Cmp(a.Pairs[j].TotalPips); c != 0 {
			return c > 0
		}
		return a.Pairs[i].Pair < a.Pairs[j].Pair
	})
	if len(closed) > 0 {
		// only pairs with closed trades rank as best or worst
		ranked := make([]PairStats, 0, len(a.Pairs))
		for _, ps := range a.Pairs {
			if ps.Won+ps.Lost > 0 {
				ranked = append(ranked, ps)
			}
		}
		a.BestPair = ranked[0].Pair
		a.WorstPair = ranked[len(ranked)-1].Pair
	}

	sort.SliceStable(closed, func(i, j int) bool {
		return closedAt(closed[i]).Before(closedAt(closed[j]))
	})
	running := decimal.Zero
	for _, row := range closed {
		running = running.Add(row.PipsGained)
		a.Timeline = append(a.Timeline, TimelinePoint{
			MessageId:      row.MessageId,
			ClosedAt:       closedAt(row),
			PipsGained:     row.PipsGained,
			CumulativePips: running,
		})
	}

	for i := len(closed) - 1; i >= 0; i-- {
		if a.CurrentStreak > 0 && closed[i].Outcome != a.StreakType {
			break
		}
		a.StreakType = closed[i].Outcome
		a.CurrentStreak++
	}

	return a
}

func tradeOf(row database.SignalMetadata) Trade {
	return Trade{
		MessageId:  row.MessageId,
		Pair:       row.Signal.Pair,
		Direction:  row.Signal.Direction,
		Outcome:    row.Outcome,
		PipsGained: row.PipsGained,
	}
}

func closedAt(row database.SignalMetadata) time.Time {
	if row.ClosedAt.Valid {
		return row.ClosedAt.Time
	}
	return row.CreatedAt
}
