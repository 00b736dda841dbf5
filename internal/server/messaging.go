package server

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/events"
	"github.com/npezzotti/trader-chat/internal/notify"
	"github.com/npezzotti/trader-chat/internal/signal"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

// mentions returns the distinct usernames mentioned in text, in order of
// first appearance.
func mentions(text string) []string {
	var names []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[1], ".")
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func userTier(u database.User) tier.Tier {
	t, err := tier.Parse(u.SubscriptionTier)
	if err != nil {
		return tier.Free
	}
	return t
}

func (cs *ChatServer) handleSendMessage(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.SendMessage
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}
	room := strings.TrimSpace(p.Room)

	user, err := cs.db.GetOrCreateUser(ctx, actor)
	if err != nil {
		return err
	}

	acc, err := cs.roomAccess(ctx, user, room)
	if err != nil {
		return err
	}
	if !acc.granted {
		cs.stats.Incr(stats.AccessDenied)
		return acc.deniedError()
	}

	params := database.CreateMessageParams{
		Username:  actor,
		Room:      room,
		Type:      database.MessageTypeText,
		Text:      strings.TrimSpace(p.Text),
		CreatedAt: msg.Timestamp,
	}

	var sig signal.Signal
	if p.Type == database.MessageTypeSignal {
		if sig, err = signalFromInput(p.Signal); err != nil {
			return err
		}
		if p.IsOfficial && !tier.CanPostOfficial(userTier(user)) {
			cs.stats.Incr(stats.AccessDenied)
			return &EventError{
				Kind:         KindPermissionDenied,
				Message:      "Official signals require a Pro subscription",
				RequiredTier: tier.Pro.String(),
			}
		}
		params.Type = database.MessageTypeSignal
		params.IsOfficial = p.IsOfficial
		params.Signal = &database.Signal{
			Pair:       sig.Pair,
			Direction:  string(sig.Direction),
			EntryPrice: sig.Entry,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			RiskReward: sig.RiskReward,
		}
	}

	saved, metadata, err := cs.db.CreateMessage(ctx, params)
	if err != nil {
		return err
	}
	cs.stats.Incr(stats.TotalMessages)

	cs.Broadcast(ToRoom(room, EvNewMessage, types.MessageFromModel(saved)))
	if metadata != nil {
		cs.Broadcast(ToRoom(room, EvSignalMetadata, SignalMetadataBatch{
			Room:     room,
			Metadata: []types.SignalMetadata{types.SignalMetadataFromModel(*metadata)},
		}))
	}

	if saved.Type == database.MessageTypeSignal {
		cs.stats.Incr(stats.TotalSignals)
		cs.signalPosted(ctx, saved, sig)
	}

	if saved.Type == database.MessageTypeText {
		cs.notifyMentions(ctx, actor, room, saved.Text)
	}

	return nil
}

func signalFromInput(in *SignalInput) (signal.Signal, error) {
	dir, err := signal.ParseDirection(in.Direction)
	if err != nil {
		return signal.Signal{}, Validation("%s", err)
	}

	sig := signal.Signal{
		Pair:       strings.ToUpper(strings.TrimSpace(in.Pair)),
		Direction:  dir,
		Entry:      in.EntryPrice,
		StopLoss:   in.StopLoss,
		TakeProfit: in.TakeProfit,
	}
	if err := sig.Validate(); err != nil {
		return signal.Signal{}, Validation("%s", err)
	}

	return sig.WithRiskReward(), nil
}

func (cs *ChatServer) signalPosted(ctx context.Context, m database.Message, sig signal.Signal) {
	cs.leaderboard.Invalidate(ctx)

	cs.exporter.Export(ctx, events.Event{
		Type:       events.SignalPosted,
		Username:   m.Username,
		OccurredAt: m.CreatedAt,
		Payload:    types.MessageFromModel(m),
	})

	if _, err := cs.notifier.NotifyFollowers(ctx, m.Username, notify.SignalEvent{
		Kind:      notify.SignalPosted,
		MessageId: m.Id,
		Pair:      sig.Pair,
		Direction: string(sig.Direction),
		Entry:     sig.Entry,
	}); err != nil {
		cs.log.Printf("notify followers of %q: %v", m.Username, err)
	}
}

// notifyMentions notifies existing users mentioned in text who can see room.
func (cs *ChatServer) notifyMentions(ctx context.Context, author, room, text string) {
	for _, name := range mentions(text) {
		if name == author {
			continue
		}

		user, err := cs.db.GetUser(ctx, name)
		if err != nil {
			continue
		}

		acc, err := cs.roomAccess(ctx, user, room)
		if err != nil || !acc.granted {
			continue
		}

		if _, err := cs.notifier.NotifyMention(ctx, author, name, room); err != nil {
			cs.log.Printf("notify mention of %q: %v", name, err)
		}
	}
}

// ownMessage loads message id and checks that actor wrote it.
func (cs *ChatServer) ownMessage(ctx context.Context, id int64, actor string) (database.Message, error) {
	m, err := cs.db.GetMessage(ctx, id)
	if err != nil {
		return database.Message{}, err
	}
	if m.Username != actor {
		return database.Message{}, PermissionDenied("only the author can change this message")
	}
	return m, nil
}

func (cs *ChatServer) handleEditMessage(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.EditMessage
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	m, err := cs.ownMessage(ctx, p.MessageId, actor)
	if err != nil {
		return err
	}
	if m.Type != database.MessageTypeText {
		return Validation("signals cannot be edited")
	}

	updated, err := cs.db.UpdateMessageText(ctx, m.Id, strings.TrimSpace(p.Text))
	if err != nil {
		return err
	}

	cs.Broadcast(ToRoom(updated.Room, EvMessageUpdated, types.MessageFromModel(updated)))
	return nil
}

func (cs *ChatServer) handleDeleteMessage(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.DeleteMessage
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	m, err := cs.ownMessage(ctx, p.MessageId, actor)
	if err != nil {
		return err
	}

	if err := cs.db.DeleteMessage(ctx, m.Id); err != nil {
		return err
	}

	cs.Broadcast(ToRoom(m.Room, EvMessageDeleted, MessageDeleted{MessageId: m.Id, Room: m.Room}))
	if m.IsOfficial {
		cs.leaderboard.Invalidate(ctx)
	}
	return nil
}

// toggleReaction adds username to emoji's set, or removes it when already
// present. Empty sets are dropped.
func toggleReaction(reactions map[string][]string, emoji, username string) map[string][]string {
	out := make(map[string][]string, len(reactions)+1)
	for k, v := range reactions {
		out[k] = slices.Clone(v)
	}

	users := out[emoji]
	if i := slices.Index(users, username); i >= 0 {
		users = slices.Delete(users, i, i+1)
	} else {
		users = append(users, username)
	}

	if len(users) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = users
	}
	return out
}

func (cs *ChatServer) handleAddReaction(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.AddReaction
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	m, err := cs.db.GetMessage(ctx, p.MessageId)
	if err != nil {
		return err
	}

	user, err := cs.db.GetOrCreateUser(ctx, actor)
	if err != nil {
		return err
	}
	acc, err := cs.roomAccess(ctx, user, m.Room)
	if err != nil {
		return err
	}
	if !acc.granted {
		return acc.deniedError()
	}

	reactions := toggleReaction(m.Reactions, p.Emoji, actor)
	if err := cs.db.UpdateMessageReactions(ctx, m.Id, reactions); err != nil {
		return err
	}

	cs.Broadcast(ToRoom(m.Room, EvMessageReacted, MessageReacted{MessageId: m.Id, Reactions: reactions}))
	return nil
}
