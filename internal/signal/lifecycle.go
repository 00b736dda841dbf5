// Package signal holds the trading signal model, the pip arithmetic and the
// pending -> win|loss outcome state machine.
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	Pending Outcome = "pending"
	Win     Outcome = "win"
	Loss    Outcome = "loss"
)

var (
	ErrNotAuthor         = errors.New("only the author can close this signal")
	ErrAlreadyClosed     = errors.New("signal is already closed")
	ErrReopen            = errors.New("a closed signal cannot be reopened")
	ErrInvalidOutcome    = errors.New("outcome must be win or loss")
	ErrInvalidClosePrice = errors.New("close price must be greater than zero")
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case Pending, Win, Loss:
		return o, nil
	}
	return "", fmt.Errorf("invalid outcome %q", s)
}

func (o Outcome) Closed() bool {
	return o == Win || o == Loss
}

// Signal is the immutable trade idea embedded in a signal message.
type Signal struct {
	Pair       string
	Direction  Direction
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	RiskReward decimal.Decimal
}

// Validate checks that every field of the signal form is filled in.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Pair) == "" {
		return errors.New("pair is required")
	}
	if s.Direction != Buy && s.Direction != Sell {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	if !s.Entry.IsPositive() {
		return errors.New("entry price must be greater than zero")
	}
	if !s.StopLoss.IsPositive() {
		return errors.New("stop loss must be greater than zero")
	}
	if !s.TakeProfit.IsPositive() {
		return errors.New("take profit must be greater than zero")
	}
	return nil
}

// WithRiskReward returns a copy with RiskReward computed from the levels.
func (s Signal) WithRiskReward() Signal {
	s.RiskReward = RiskReward(s.Direction, s.Entry, s.StopLoss, s.TakeProfit)
	return s
}

// State is the tracked lifecycle of one official signal.
type State struct {
	MessageId int64
	Author    string
	Outcome   Outcome
	Version   int
}

type CloseRequest struct {
	Actor      string
	Outcome    Outcome
	ClosePrice decimal.Decimal
	At         time.Time
}

// Transition is the single write that moves a signal out of pending.
// ExpectedVersion must still match when the write lands.
type Transition struct {
	MessageId       int64
	Outcome         Outcome
	ClosePrice      decimal.Decimal
	PipsGained      decimal.Decimal
	ClosedAt        time.Time
	ClosedBy        string
	ExpectedVersion int
}

// Close validates req against the current state and computes the transition.
// The state itself is not modified.
func Close(state State, sig Signal, req CloseRequest) (Transition, error) {
	if req.Actor != state.Author {
		return Transition{}, ErrNotAuthor
	}
	if req.Outcome == Pending {
		if state.Outcome.Closed() {
			return Transition{}, ErrReopen
		}
		return Transition{}, ErrInvalidOutcome
	}
	if !req.Outcome.Closed() {
		return Transition{}, ErrInvalidOutcome
	}
	if state.Outcome.Closed() {
		return Transition{}, ErrAlreadyClosed
	}
	if !req.ClosePrice.IsPositive() {
		return Transition{}, ErrInvalidClosePrice
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return Transition{
		MessageId:       state.MessageId,
		Outcome:         req.Outcome,
		ClosePrice:      req.ClosePrice,
		PipsGained:      CalculateForPair(sig.Pair, sig.Direction, sig.Entry, req.ClosePrice),
		ClosedAt:        at,
		ClosedBy:        req.Actor,
		ExpectedVersion: state.Version,
	}, nil
}
