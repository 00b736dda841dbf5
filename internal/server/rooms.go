package server

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
	"github.com/teris-io/shortid"
)

func (cs *ChatServer) handleCreatePrivateRoom(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.CreatePrivateRoom
	actor, err := c.actor(p.Username)
	if err != nil {
		return err
	}

	user, err := cs.db.GetOrCreateUser(ctx, actor)
	if err != nil {
		return err
	}
	if !tier.CanCreatePrivateRoom(userTier(user)) {
		return &EventError{
			Kind:         KindPermissionDenied,
			Message:      "Private rooms require a Premium subscription",
			RequiredTier: tier.Premium.String(),
		}
	}

	id, err := shortid.Generate()
	if err != nil {
		return err
	}

	room, err := cs.db.CreatePrivateRoom(ctx, database.CreatePrivateRoomParams{
		RoomId:        "private-" + id,
		Name:          strings.TrimSpace(p.Name),
		Description:   strings.TrimSpace(p.Description),
		OwnerUsername: actor,
	})
	if err != nil {
		return err
	}
	room.Role = database.RoleOwner

	c.queueMessage(Reply(msg.Id, EvRoomCreated, types.PrivateRoomFromModel(room)))
	return nil
}

// manager loads the private room and checks that actor owns or moderates it.
func (cs *ChatServer) manager(ctx context.Context, roomId, actor string) (database.PrivateRoom, database.RoomMembership, error) {
	room, err := cs.db.GetPrivateRoom(ctx, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.PrivateRoom{}, database.RoomMembership{}, NotFound("room %q not found", roomId)
		}
		return database.PrivateRoom{}, database.RoomMembership{}, err
	}

	m, err := cs.db.GetMembership(ctx, roomId, actor)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && m.Role == database.RoleMember) {
		return database.PrivateRoom{}, database.RoomMembership{}, PermissionDenied("only the owner or a moderator can manage %q", room.Name)
	}
	if err != nil {
		return database.PrivateRoom{}, database.RoomMembership{}, err
	}

	return room, m, nil
}

func (cs *ChatServer) handleInviteToRoom(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.InviteToRoom
	actor, err := c.actor("")
	if err != nil {
		return err
	}

	room, _, err := cs.manager(ctx, p.Room, actor)
	if err != nil {
		return err
	}

	invitee := strings.TrimSpace(p.Invitee)
	if _, err := cs.db.GetUser(ctx, invitee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("user %q not found", invitee)
		}
		return err
	}

	_, err = cs.db.GetMembership(ctx, room.RoomId, invitee)
	if err == nil {
		return Conflict("%q is already a member of %q", invitee, room.Name)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	inv, err := cs.db.CreateInvitation(ctx, database.CreateInvitationParams{
		Token:     uuid.NewString(),
		RoomId:    room.RoomId,
		InvitedBy: actor,
		Invitee:   invitee,
	})
	if err != nil {
		return err
	}

	if err := cs.notifier.NotifyInvitation(ctx, inv, room.Name); err != nil {
		cs.log.Printf("notify %q of invitation: %v", invitee, err)
	}

	c.queueMessage(Reply(msg.Id, EvInvitationSent, types.InvitationFromModel(inv)))
	return nil
}

func (cs *ChatServer) handleAcceptInvitation(ctx context.Context, c *Client, msg *ClientMessage) error {
	actor, err := c.actor("")
	if err != nil {
		return err
	}

	token := strings.TrimSpace(msg.AcceptInvitation.Token)
	inv, err := cs.db.GetInvitation(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("invitation not found")
		}
		return err
	}
	if inv.Invitee != actor {
		return PermissionDenied("this invitation was sent to someone else")
	}
	if inv.Status != database.InvitationPending {
		return Conflict("invitation was already %s", inv.Status)
	}

	if _, err := cs.db.AcceptInvitation(ctx, token); err != nil {
		return err
	}
	inv.Status = database.InvitationAccepted

	c.queueMessage(Reply(msg.Id, EvInvitationAccepted, types.InvitationFromModel(inv)))

	rooms, err := cs.myRooms(ctx, actor)
	if err != nil {
		return err
	}
	c.queueMessage(Reply(msg.Id, EvMyRooms, rooms))
	return nil
}

func (cs *ChatServer) handleRemoveMember(ctx context.Context, c *Client, msg *ClientMessage) error {
	p := msg.RemoveMember
	actor, err := c.actor("")
	if err != nil {
		return err
	}

	room, manager, err := cs.manager(ctx, p.Room, actor)
	if err != nil {
		return err
	}

	member := strings.TrimSpace(p.Member)
	target, err := cs.db.GetMembership(ctx, room.RoomId, member)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("%q is not a member of %q", member, room.Name)
		}
		return err
	}

	switch {
	case target.Role == database.RoleOwner:
		return PermissionDenied("the room owner cannot be removed")
	case target.Role == database.RoleModerator && manager.Role != database.RoleOwner:
		return PermissionDenied("only the owner can remove a moderator")
	}

	if err := cs.db.DeleteMembership(ctx, room.RoomId, member); err != nil {
		return err
	}

	removed := MemberRemoved{Room: room.RoomId, Username: member}
	cs.Evict(room.RoomId, member, Reply(0, EvMemberRemoved, removed))

	c.queueMessage(Reply(msg.Id, EvMemberRemoved, removed))
	return nil
}
