package server

import (
	"context"
	"database/sql"
	"errors"

	"github.com/npezzotti/trader-chat/internal/events"
	"github.com/npezzotti/trader-chat/internal/leaderboard"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
)

func (cs *ChatServer) followTarget(ctx context.Context, c *Client, p *FollowUser) (string, string, error) {
	actor, err := c.actor(p.Follower)
	if err != nil {
		return "", "", err
	}
	if p.Following == actor {
		return "", "", Validation("cannot follow yourself")
	}
	if _, err := cs.db.GetUser(ctx, p.Following); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", NotFound("user %q not found", p.Following)
		}
		return "", "", err
	}
	return actor, p.Following, nil
}

func (cs *ChatServer) handleFollow(ctx context.Context, c *Client, msg *ClientMessage) error {
	follower, following, err := cs.followTarget(ctx, c, msg.FollowUser)
	if err != nil {
		return err
	}

	changed, err := cs.db.Follow(ctx, follower, following)
	if err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvFollowSuccess, FollowResult{
		Follower:  follower,
		Following: following,
		Changed:   changed,
	}))

	if changed {
		if err := cs.notifier.NotifyFollowed(ctx, follower, following); err != nil {
			cs.log.Printf("notify %q of new follower: %v", following, err)
		}
		cs.exporter.Export(ctx, events.Event{
			Type:       events.UserFollowed,
			Username:   follower,
			OccurredAt: msg.Timestamp,
			Payload:    FollowResult{Follower: follower, Following: following, Changed: true},
		})
	}
	return nil
}

func (cs *ChatServer) handleUnfollow(ctx context.Context, c *Client, msg *ClientMessage) error {
	follower, following, err := cs.followTarget(ctx, c, msg.UnfollowUser)
	if err != nil {
		return err
	}

	changed, err := cs.db.Unfollow(ctx, follower, following)
	if err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvUnfollowSuccess, FollowResult{
		Follower:  follower,
		Following: following,
		Changed:   changed,
	}))
	return nil
}

func (cs *ChatServer) handleUpgradeSubscription(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.UpgradeSubscription
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	t, err := tier.Parse(p.Tier)
	if err != nil {
		return Validation("%s", err)
	}

	user, err := cs.db.UpdateUserTier(ctx, actor, t.String())
	if err != nil {
		return err
	}

	cs.Broadcast(ToAll(EvUpgradeSuccess, types.UserFromModel(user)))
	cs.exporter.Export(ctx, events.Event{
		Type:       events.TierUpgraded,
		Username:   actor,
		OccurredAt: msg.Timestamp,
		Payload:    types.UserFromModel(user),
	})

	// a downgrade can lock rooms the user is sitting in
	cs.evictLocked(actor, t)

	return nil
}

type LeaderboardData struct {
	Period              leaderboard.Period          `json:"period"`
	SortBy              leaderboard.SortKey         `json:"sortBy"`
	MinCompletedSignals int                         `json:"minCompletedSignals"`
	Leaderboard         []leaderboard.TraderSummary `json:"leaderboard"`
}

func (cs *ChatServer) handleGetLeaderboard(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.GetLeaderboard

	period, err := leaderboard.ParsePeriod(p.Period)
	if err != nil {
		return Validation("%s", err)
	}
	sortBy, err := leaderboard.ParseSortKey(p.SortBy)
	if err != nil {
		return Validation("%s", err)
	}

	rows, err := cs.leaderboard.Leaderboard(ctx, leaderboard.Query{
		Period: period,
		SortBy: sortBy,
		Limit:  cs.topN,
	})
	if err != nil {
		return err
	}
	if rows == nil {
		rows = make([]leaderboard.TraderSummary, 0)
	}

	c.queueMessage(Reply(msg.Id, EvLeaderboardData, LeaderboardData{
		Period:              period,
		SortBy:              sortBy,
		MinCompletedSignals: cs.leaderboard.MinCompletedSignals(),
		Leaderboard:         rows,
	}))
	return nil
}

func (cs *ChatServer) handleGetNotifications(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor(msg.GetNotifications.Username)
	if err != nil {
		return err
	}

	rows, err := cs.db.ListNotifications(ctx, actor, notificationsLimit)
	if err != nil {
		return err
	}

	out := make([]types.Notification, 0, len(rows))
	for _, n := range rows {
		out = append(out, types.NotificationFromModel(n))
	}

	c.queueMessage(Reply(msg.Id, EvNotificationsLoaded, out))
	return nil
}

func (cs *ChatServer) handleMarkNotificationRead(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor("")
	if err != nil {
		return err
	}

	id := msg.MarkNotificationRead.NotificationId
	if err := cs.db.MarkNotificationRead(ctx, id, actor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("notification %d not found", id)
		}
		return err
	}

	c.queueMessage(Reply(msg.Id, EvNotificationRead, map[string]int64{"notificationId": id}))
	return nil
}

func (cs *ChatServer) handleMarkAllRead(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor(msg.MarkAllRead.Username)
	if err != nil {
		return err
	}

	if err := cs.db.MarkAllNotificationsRead(ctx, actor); err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvAllNotificationsRead, map[string]string{"username": actor}))
	return nil
}

func (cs *ChatServer) handleGetPreferences(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor(msg.GetPreferences.Username)
	if err != nil {
		return err
	}

	prefs, err := cs.notifier.Preferences(ctx, actor)
	if err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvPreferencesLoaded, types.PreferencesFromModel(prefs)))
	return nil
}

func (cs *ChatServer) handleUpdatePreferences(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.UpdatePreferences
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	if err := cs.db.UpsertNotificationPreferences(ctx, p.Preferences.Model(actor)); err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvPreferencesUpdated, p.Preferences))
	return nil
}
