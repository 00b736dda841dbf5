// Package notify fans social and signal events out to users as persisted
// notifications, pushed live to connected sessions.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/types"
	"github.com/shopspring/decimal"
)

const (
	TypeNewSignal      = "new_signal"
	TypeSignalOutcome  = "signal_outcome"
	TypeNewFollower    = "new_follower"
	TypeMention        = "mention"
	TypeRoomInvitation = "room_invitation"
)

type Store interface {
	ListFollowers(ctx context.Context, username string) ([]string, error)
	GetNotificationPreferences(ctx context.Context, username string) (database.NotificationPreferences, error)
	CreateNotification(ctx context.Context, n database.Notification) (database.Notification, error)
}

// Pusher delivers a notification to every live session of a user.
type Pusher interface {
	PushNotification(username string, n types.Notification)
}

type EventKind int

const (
	SignalPosted EventKind = iota
	SignalClosed
)

type SignalEvent struct {
	Kind       EventKind
	MessageId  int64
	Pair       string
	Direction  string
	Entry      decimal.Decimal
	Outcome    string
	PipsGained decimal.Decimal
}

type FollowNotifier struct {
	store  Store
	pusher Pusher
	stats  stats.StatsProvider
	log    *log.Logger
}

func NewFollowNotifier(store Store, pusher Pusher, su stats.StatsProvider, logger *log.Logger) *FollowNotifier {
	return &FollowNotifier{
		store:  store,
		pusher: pusher,
		stats:  su,
		log:    logger,
	}
}

// Preferences loads the stored flags for username, all enabled when absent.
func (n *FollowNotifier) Preferences(ctx context.Context, username string) (database.NotificationPreferences, error) {
	prefs, err := n.store.GetNotificationPreferences(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return database.DefaultNotificationPreferences(username), nil
	}
	return prefs, err
}

func wants(prefs database.NotificationPreferences, kind EventKind) bool {
	if !prefs.NotifyFollowedTraders {
		return false
	}
	if kind == SignalClosed {
		return prefs.NotifySignalOutcomes
	}
	return prefs.NotifyNewSignals
}

// NotifyFollowers notifies every follower of author whose preferences accept
// the event and returns how many notifications were delivered. Failures for a
// single follower are logged and do not stop the fan-out.
func (n *FollowNotifier) NotifyFollowers(ctx context.Context, author string, ev SignalEvent) (int, error) {
	followers, err := n.store.ListFollowers(ctx, author)
	if err != nil {
		return 0, fmt.Errorf("list followers of %q: %w", author, err)
	}

	title, body := signalContent(author, ev)
	typ := TypeNewSignal
	if ev.Kind == SignalClosed {
		typ = TypeSignalOutcome
	}

	sent := 0
	for _, follower := range followers {
		prefs, err := n.Preferences(ctx, follower)
		if err != nil {
			n.log.Printf("GetNotificationPreferences(%q): %v", follower, err)
			continue
		}
		if !wants(prefs, ev.Kind) {
			continue
		}

		if err := n.deliver(ctx, database.Notification{
			Username: follower,
			Type:     typ,
			Title:    title,
			Message:  body,
		}); err != nil {
			n.log.Printf("notify follower %q of %q: %v", follower, author, err)
			continue
		}
		sent++
	}

	return sent, nil
}

func signalContent(author string, ev SignalEvent) (string, string) {
	if ev.Kind == SignalClosed {
		return fmt.Sprintf("%s closed a signal", author),
			fmt.Sprintf("%s %s: %s pips", ev.Pair, ev.Outcome, formatPips(ev.PipsGained))
	}
	return fmt.Sprintf("New signal from %s", author),
		fmt.Sprintf("%s %s @ %s", ev.Direction, ev.Pair, ev.Entry.String())
}

func formatPips(p decimal.Decimal) string {
	if p.IsPositive() {
		return "+" + p.StringFixed(1)
	}
	return p.StringFixed(1)
}

// NotifyFollowed tells followed that follower started following them. It is
// not subject to preference flags.
func (n *FollowNotifier) NotifyFollowed(ctx context.Context, follower, followed string) error {
	return n.deliver(ctx, database.Notification{
		Username: followed,
		Type:     TypeNewFollower,
		Title:    "New follower",
		Message:  fmt.Sprintf("%s started following you", follower),
	})
}

// NotifyMention notifies mentioned if their notifyMentions flag is set and
// reports whether a notification was sent.
func (n *FollowNotifier) NotifyMention(ctx context.Context, author, mentioned, room string) (bool, error) {
	prefs, err := n.Preferences(ctx, mentioned)
	if err != nil {
		return false, err
	}
	if !prefs.NotifyMentions {
		return false, nil
	}

	err = n.deliver(ctx, database.Notification{
		Username: mentioned,
		Type:     TypeMention,
		Title:    fmt.Sprintf("%s mentioned you", author),
		Message:  fmt.Sprintf("You were mentioned in #%s", room),
	})
	return err == nil, err
}

func (n *FollowNotifier) NotifyInvitation(ctx context.Context, inv database.RoomInvitation, roomName string) error {
	return n.deliver(ctx, database.Notification{
		Username: inv.Invitee,
		Type:     TypeRoomInvitation,
		Title:    "Room invitation",
		Message:  fmt.Sprintf("%s invited you to %s (token %s)", inv.InvitedBy, roomName, inv.Token),
	})
}

// deliver persists the notification and then pushes it to live sessions.
func (n *FollowNotifier) deliver(ctx context.Context, row database.Notification) error {
	saved, err := n.store.CreateNotification(ctx, row)
	if err != nil {
		return err
	}

	n.stats.Incr(stats.TotalNotifications)
	n.pusher.PushNotification(saved.Username, types.NotificationFromModel(saved))
	return nil
}
