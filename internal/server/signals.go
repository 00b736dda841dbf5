package server

import (
	"context"
	"database/sql"
	"errors"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/events"
	"github.com/npezzotti/trader-chat/internal/notify"
	"github.com/npezzotti/trader-chat/internal/signal"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/types"
)

func (cs *ChatServer) handleUpdateSignalOutcome(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.UpdateSignalOutcome
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}
	if p.ClosedBy != "" && p.ClosedBy != actor {
		return PermissionDenied("cannot close a signal on behalf of %q", p.ClosedBy)
	}

	outcome, err := signal.ParseOutcome(p.Outcome)
	if err != nil {
		return Validation("%s", err)
	}

	meta, err := cs.db.GetSignalMetadata(ctx, p.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("signal %d not found", p.MessageId)
		}
		return err
	}

	state, sig, err := signalState(meta)
	if err != nil {
		return err
	}

	t, err := signal.Close(state, sig, signal.CloseRequest{
		Actor:      actor,
		Outcome:    outcome,
		ClosePrice: p.ClosePrice,
		At:         msg.Timestamp,
	})
	if err != nil {
		return err
	}

	closed, err := cs.db.CloseSignal(ctx, database.CloseSignalParams{
		MessageId:       t.MessageId,
		Outcome:         string(t.Outcome),
		ClosePrice:      t.ClosePrice,
		PipsGained:      t.PipsGained,
		ClosedAt:        t.ClosedAt,
		ClosedBy:        t.ClosedBy,
		ExpectedVersion: t.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	cs.stats.Incr(stats.TotalSignalsClosed)

	update := types.SignalMetadataFromModel(closed)
	cs.Broadcast(ToRoom(closed.Room, EvSignalUpdated, update))
	cs.leaderboard.Invalidate(ctx)

	cs.exporter.Export(ctx, events.Event{
		Type:       events.SignalClosed,
		Username:   closed.AuthorUsername,
		OccurredAt: t.ClosedAt,
		Payload:    update,
	})

	if _, err := cs.notifier.NotifyFollowers(ctx, closed.AuthorUsername, notify.SignalEvent{
		Kind:       notify.SignalClosed,
		MessageId:  closed.MessageId,
		Pair:       closed.Signal.Pair,
		Direction:  closed.Signal.Direction,
		Entry:      closed.Signal.EntryPrice,
		Outcome:    closed.Outcome,
		PipsGained: closed.PipsGained,
	}); err != nil {
		cs.log.Printf("notify followers of %q: %v", closed.AuthorUsername, err)
	}

	return nil
}

func signalState(meta database.SignalMetadata) (signal.State, signal.Signal, error) {
	outcome, err := signal.ParseOutcome(meta.Outcome)
	if err != nil {
		return signal.State{}, signal.Signal{}, err
	}
	dir, err := signal.ParseDirection(meta.Signal.Direction)
	if err != nil {
		return signal.State{}, signal.Signal{}, err
	}

	state := signal.State{
		MessageId: meta.MessageId,
		Author:    meta.AuthorUsername,
		Outcome:   outcome,
		Version:   meta.Version,
	}
	sig := signal.Signal{
		Pair:       meta.Signal.Pair,
		Direction:  dir,
		Entry:      meta.Signal.EntryPrice,
		StopLoss:   meta.Signal.StopLoss,
		TakeProfit: meta.Signal.TakeProfit,
		RiskReward: meta.Signal.RiskReward,
	}
	return state, sig, nil
}
