package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
)

func (cs *ChatServer) handle(ctx context.Context, c *Client, event string, msg *ClientMessage) error {
	switch event {
	case EvRegisterUser:
		return cs.handleRegisterUser(ctx, c, msg)
	case EvJoinRoom:
		return cs.handleJoinRoom(ctx, c, msg)
	case EvLeaveRoom:
		return cs.handleLeaveRoom(ctx, c, msg)
	case EvSendMessage:
		return cs.handleSendMessage(ctx, c, msg)
	case EvEditMessage:
		return cs.handleEditMessage(ctx, c, msg)
	case EvDeleteMessage:
		return cs.handleDeleteMessage(ctx, c, msg)
	case EvAddReaction:
		return cs.handleAddReaction(ctx, c, msg)
	case EvTyping:
		return cs.handleTyping(c, msg.Typing, EvUserTyping)
	case EvStopTyping:
		return cs.handleTyping(c, msg.StopTyping, EvUserStopTyping)
	case EvUpdateSignalOutcome:
		return cs.handleUpdateSignalOutcome(ctx, c, msg)
	case EvFollowUser:
		return cs.handleFollow(ctx, c, msg)
	case EvUnfollowUser:
		return cs.handleUnfollow(ctx, c, msg)
	case EvUpgradeSubscription:
		return cs.handleUpgradeSubscription(ctx, c, msg)
	case EvCreatePrivateRoom:
		return cs.handleCreatePrivateRoom(ctx, c, msg)
	case EvInviteToRoom:
		return cs.handleInviteToRoom(ctx, c, msg)
	case EvAcceptInvitation:
		return cs.handleAcceptInvitation(ctx, c, msg)
	case EvRemoveMember:
		return cs.handleRemoveMember(ctx, c, msg)
	case EvGetMyRooms:
		return cs.handleGetMyRooms(ctx, c, msg)
	case EvGetLeaderboard:
		return cs.handleGetLeaderboard(ctx, c, msg)
	case EvGetNotifications:
		return cs.handleGetNotifications(ctx, c, msg)
	case EvMarkNotificationRead:
		return cs.handleMarkNotificationRead(ctx, c, msg)
	case EvMarkAllRead:
		return cs.handleMarkAllRead(ctx, c, msg)
	case EvGetPreferences:
		return cs.handleGetPreferences(ctx, c, msg)
	case EvUpdatePreferences:
		return cs.handleUpdatePreferences(ctx, c, msg)
	}
	return Validation("unsupported event %q", event)
}

func (cs *ChatServer) handleRegisterUser(ctx context.Context, c *Client, msg *ClientMessage) error {
	username := strings.TrimSpace(msg.RegisterUser.Username)
	current := c.Username()
	if current != "" && current != username {
		return PermissionDenied("connection is already registered as %q", current)
	}

	user, err := cs.db.GetOrCreateUser(ctx, username)
	if err != nil {
		return err
	}

	if current == "" {
		c.setUsername(username)
		if !enqueue(cs, cs.identifyChan, c) {
			return errServerStopped
		}
	}

	c.queueMessage(Reply(msg.Id, EvUserRegistered, types.UserFromModel(user)))
	return nil
}

// access is the result of checking a user against a room.
type access struct {
	granted      bool
	private      bool
	requiredTier tier.Tier
	message      string
}

func (a access) locked(room string) RoomLocked {
	return RoomLocked{Room: room, RequiredTier: a.requiredTier.String(), Message: a.message}
}

func (a access) deniedError() *EventError {
	return &EventError{
		Kind:         KindPermissionDenied,
		Message:      a.message,
		RequiredTier: a.requiredTier.String(),
	}
}

// roomAccess decides whether user may read and post in room. Public rooms
// follow the tier table, private rooms require a membership row.
func (cs *ChatServer) roomAccess(ctx context.Context, user database.User, room string) (access, error) {
	if tier.IsPublicRoom(room) {
		t, err := tier.Parse(user.SubscriptionTier)
		if err != nil {
			t = tier.Free
		}
		if tier.CanAccessRoom(t, room) {
			return access{granted: true}, nil
		}
		return access{
			requiredTier: tier.RequiredTier(room),
			message:      tier.LockedMessage(room),
		}, nil
	}

	if _, err := cs.db.GetPrivateRoom(ctx, room); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access{}, NotFound("room %q not found", room)
		}
		return access{}, err
	}

	_, err := cs.db.GetMembership(ctx, room, user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return access{
			private:      true,
			requiredTier: tier.Premium,
			message:      "This private room requires an invitation",
		}, nil
	}
	if err != nil {
		return access{}, err
	}

	return access{granted: true, private: true}, nil
}

func (cs *ChatServer) handleJoinRoom(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor(msg.JoinRoom.Username)
	if err != nil {
		return err
	}
	room := strings.TrimSpace(msg.JoinRoom.Room)

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
		c.queueMessage(Reply(msg.Id, EvRoomLocked, acc.locked(room)))
		return nil
	}

	history, err := cs.db.ListMessages(ctx, room, cs.historyLimit)
	if err != nil {
		return err
	}

	frames := []*ServerMessage{Reply(msg.Id, EvPreviousMessages, types.MessagesFromModel(history))}

	if ids := officialSignalIds(history); len(ids) > 0 {
		metadata, err := cs.db.ListSignalMetadataByMessageIds(ctx, ids)
		if err != nil {
			return err
		}
		frames = append(frames, Reply(msg.Id, EvSignalMetadata, SignalMetadataBatch{
			Room:     room,
			Metadata: types.SignalMetadataListFromModel(metadata),
		}))
	}

	return cs.subscribe(c, room, frames)
}

func officialSignalIds(messages []database.Message) []int64 {
	var ids []int64
	for _, m := range messages {
		if m.IsOfficial && m.Type == database.MessageTypeSignal {
			ids = append(ids, m.Id)
		}
	}
	return ids
}

func (cs *ChatServer) handleLeaveRoom(ctx context.Context, c *Client, msg *ClientMessage) error {
	if _, err := c.actor(""); err != nil {
		return err
	}

	current := c.CurrentRoom()
	if current == "" {
		return Validation("not in a room")
	}
	if msg.LeaveRoom.Room != "" && msg.LeaveRoom.Room != current {
		return Validation("not in room %q", msg.LeaveRoom.Room)
	}

	if err := cs.unsubscribe(c, current); err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvRoomLeft, map[string]string{"room": current}))
	return nil
}

func (cs *ChatServer) handleTyping(c *Client, p *Typing, event string) error {
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	room := c.CurrentRoom()
	if room == "" || (p.Room != "" && p.Room != room) {
		return Validation("join the room before typing in it")
	}

	out := ToRoom(room, event, UserTyping{Room: room, Username: actor})
	out.skip = c
	cs.Broadcast(out)
	return nil
}

func (cs *ChatServer) handleGetMyRooms(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor(msg.GetMyRooms.Username)
	if err != nil {
		return err
	}

	rooms, err := cs.myRooms(ctx, actor)
	if err != nil {
		return err
	}

	c.queueMessage(Reply(msg.Id, EvMyRooms, rooms))
	return nil
}

type MyRooms struct {
	Public  []types.Room `json:"public"`
	Private []types.Room `json:"private"`
}

func (cs *ChatServer) myRooms(ctx context.Context, username string) (MyRooms, error) {
	user, err := cs.db.GetUser(ctx, username)
	if err != nil {
		return MyRooms{}, err
	}
	t, err := tier.Parse(user.SubscriptionTier)
	if err != nil {
		return MyRooms{}, fmt.Errorf("user %q: %w", username, err)
	}

	result := MyRooms{Private: make([]types.Room, 0)}
	for _, r := range tier.PublicRooms() {
		result.Public = append(result.Public, types.Room{
			Id:           r.Id,
			Name:         r.Name,
			Description:  r.Description,
			RequiredTier: r.RequiredTier.String(),
			Locked:       !tier.CanAccessRoom(t, r.Id),
		})
	}

	private, err := cs.db.ListRoomsForUser(ctx, username)
	if err != nil {
		return MyRooms{}, err
	}
	for _, r := range private {
		result.Private = append(result.Private, types.PrivateRoomFromModel(r))
	}

	return result, nil
}
