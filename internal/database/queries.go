package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	userColumns    = "id, username, subscription_tier, created_at, updated_at"
	messageColumns = "id, username, room, type, text, pair, direction, entry_price, stop_loss, " +
		"take_profit, risk_reward, is_official, edited, reactions, created_at, updated_at"
	metadataSelect = `
		SELECT
				m.message_id,
				m.author_username,
				m.outcome,
				m.close_price,
				m.pips_gained,
				m.closed_at,
				m.closed_by,
				m.version,
				m.created_at,
				msg.room,
				msg.pair,
				msg.direction,
				msg.entry_price,
				msg.stop_loss,
				msg.take_profit,
				msg.risk_reward
		FROM official_signal_metadata m
		JOIN messages msg ON msg.id = m.message_id`
	createMembershipQuery = "INSERT INTO room_memberships (room_id, username, role, created_at) VALUES ($1, $2, $3, $4)"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.SubscriptionTier,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg               Message
		pair, direction   sql.NullString
		entry, sl, tp, rr decimal.NullDecimal
		reactions         []byte
	)

	err := row.Scan(
		&msg.Id,
		&msg.Username,
		&msg.Room,
		&msg.Type,
		&msg.Text,
		&pair,
		&direction,
		&entry,
		&sl,
		&tp,
		&rr,
		&msg.IsOfficial,
		&msg.Edited,
		&reactions,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if pair.Valid {
		msg.Signal = &Signal{
			Pair:       pair.String,
			Direction:  direction.String,
			EntryPrice: entry.Decimal,
			StopLoss:   sl.Decimal,
			TakeProfit: tp.Decimal,
			RiskReward: rr.Decimal,
		}
	}

	msg.Reactions, err = decodeReactions(reactions)
	return msg, err
}

func scanMetadata(row rowScanner) (SignalMetadata, error) {
	var (
		meta              SignalMetadata
		pair, direction   sql.NullString
		entry, sl, tp, rr decimal.NullDecimal
	)

	err := row.Scan(
		&meta.MessageId,
		&meta.AuthorUsername,
		&meta.Outcome,
		&meta.ClosePrice,
		&meta.PipsGained,
		&meta.ClosedAt,
		&meta.ClosedBy,
		&meta.Version,
		&meta.CreatedAt,
		&meta.Room,
		&pair,
		&direction,
		&entry,
		&sl,
		&tp,
		&rr,
	)
	if err != nil {
		return SignalMetadata{}, err
	}

	meta.Signal = Signal{
		Pair:       pair.String,
		Direction:  direction.String,
		EntryPrice: entry.Decimal,
		StopLoss:   sl.Decimal,
		TakeProfit: tp.Decimal,
		RiskReward: rr.Decimal,
	}
	return meta, nil
}

func decodeReactions(raw []byte) (map[string][]string, error) {
	reactions := make(map[string][]string)
	if len(raw) == 0 {
		return reactions, nil
	}
	if err := json.Unmarshal(raw, &reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return reactions, nil
}

func (db *PgTraderChatRepository) GetOrCreateUser(ctx context.Context, username string) (User, error) {
	// the no-op update makes RETURNING yield the existing row on conflict
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, subscription_tier, created_at, updated_at) VALUES ($1, 'free', $2, $2) "+
			"ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username "+
			"RETURNING "+userColumns,
		username,
		time.Now().UTC(),
	)

	return scanUser(row)
}

func (db *PgTraderChatRepository) GetUser(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 LIMIT 1",
		username,
	)

	return scanUser(row)
}

func (db *PgTraderChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgTraderChatRepository) UpdateUserTier(ctx context.Context, username, tier string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET subscription_tier = $2, updated_at = $3 WHERE username = $1 RETURNING "+userColumns,
		username,
		tier,
		time.Now().UTC(),
	)

	return scanUser(row)
}

func (db *PgTraderChatRepository) CreatePrivateRoom(ctx context.Context, params CreatePrivateRoomParams) (PrivateRoom, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return PrivateRoom{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRowContext(ctx,
		"INSERT INTO private_rooms (room_id, name, description, owner_username, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING room_id, name, description, owner_username, created_at",
		params.RoomId,
		params.Name,
		params.Description,
		params.OwnerUsername,
		now,
	)

	var room PrivateRoom
	err = res.Scan(
		&room.RoomId,
		&room.Name,
		&room.Description,
		&room.OwnerUsername,
		&room.CreatedAt,
	)
	if err != nil {
		err = translateError(err)
		return PrivateRoom{}, err
	}

	_, err = tx.ExecContext(ctx, createMembershipQuery, room.RoomId, params.OwnerUsername, RoleOwner, now)
	if err != nil {
		return PrivateRoom{}, err
	}

	if err = tx.Commit(); err != nil {
		return PrivateRoom{}, err
	}

	room.Role = RoleOwner
	return room, nil
}

func (db *PgTraderChatRepository) GetPrivateRoom(ctx context.Context, roomId string) (PrivateRoom, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT room_id, name, description, owner_username, created_at FROM private_rooms WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var room PrivateRoom
	err := row.Scan(
		&room.RoomId,
		&room.Name,
		&room.Description,
		&room.OwnerUsername,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgTraderChatRepository) ListRoomsForUser(ctx context.Context, username string) ([]PrivateRoom, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT r.room_id, r.name, r.description, r.owner_username, r.created_at, rm.role "+
			"FROM room_memberships rm JOIN private_rooms r ON r.room_id = rm.room_id "+
			"WHERE rm.username = $1 ORDER BY r.created_at ASC",
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]PrivateRoom, 0)
	for rows.Next() {
		var room PrivateRoom
		if err := rows.Scan(&room.RoomId, &room.Name, &room.Description, &room.OwnerUsername, &room.CreatedAt, &room.Role); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgTraderChatRepository) GetMembership(ctx context.Context, roomId, username string) (RoomMembership, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT room_id, username, role, created_at FROM room_memberships WHERE room_id = $1 AND username = $2 LIMIT 1",
		roomId,
		username,
	)

	var m RoomMembership
	err := row.Scan(&m.RoomId, &m.Username, &m.Role, &m.CreatedAt)
	return m, err
}

func (db *PgTraderChatRepository) UpsertMembership(ctx context.Context, m RoomMembership) error {
	_, err := db.conn.ExecContext(ctx,
		createMembershipQuery+" ON CONFLICT (room_id, username) DO UPDATE SET role = EXCLUDED.role",
		m.RoomId,
		m.Username,
		m.Role,
		time.Now().UTC(),
	)

	return err
}

func (db *PgTraderChatRepository) DeleteMembership(ctx context.Context, roomId, username string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_memberships WHERE room_id = $1 AND username = $2",
		roomId,
		username,
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgTraderChatRepository) CreateInvitation(ctx context.Context, params CreateInvitationParams) (RoomInvitation, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO room_invitations (token, room_id, invited_by, invitee, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING token, room_id, invited_by, invitee, status, created_at, accepted_at",
		params.Token,
		params.RoomId,
		params.InvitedBy,
		params.Invitee,
		InvitationPending,
		time.Now().UTC(),
	)

	return scanInvitation(row)
}

func (db *PgTraderChatRepository) GetInvitation(ctx context.Context, token string) (RoomInvitation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT token, room_id, invited_by, invitee, status, created_at, accepted_at "+
			"FROM room_invitations WHERE token = $1 LIMIT 1",
		token,
	)

	return scanInvitation(row)
}

func scanInvitation(row rowScanner) (RoomInvitation, error) {
	var inv RoomInvitation
	err := row.Scan(
		&inv.Token,
		&inv.RoomId,
		&inv.InvitedBy,
		&inv.Invitee,
		&inv.Status,
		&inv.CreatedAt,
		&inv.AcceptedAt,
	)
	return inv, err
}

func (db *PgTraderChatRepository) AcceptInvitation(ctx context.Context, token string) (RoomMembership, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return RoomMembership{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var m RoomMembership
	err = tx.QueryRowContext(ctx,
		"UPDATE room_invitations SET status = $2, accepted_at = $3 "+
			"WHERE token = $1 AND status = $4 RETURNING room_id, invitee",
		token,
		InvitationAccepted,
		now,
		InvitationPending,
	).Scan(&m.RoomId, &m.Username)
	if err == sql.ErrNoRows {
		err = ErrConflict
		return RoomMembership{}, err
	}
	if err != nil {
		return RoomMembership{}, err
	}

	// an existing membership keeps its role
	_, err = tx.ExecContext(ctx,
		createMembershipQuery+" ON CONFLICT (room_id, username) DO NOTHING",
		m.RoomId,
		m.Username,
		RoleMember,
		now,
	)
	if err != nil {
		return RoomMembership{}, err
	}

	err = tx.QueryRowContext(ctx,
		"SELECT role, created_at FROM room_memberships WHERE room_id = $1 AND username = $2",
		m.RoomId,
		m.Username,
	).Scan(&m.Role, &m.CreatedAt)
	if err != nil {
		return RoomMembership{}, err
	}

	if err = tx.Commit(); err != nil {
		return RoomMembership{}, err
	}

	return m, nil
}

func signalArgs(s *Signal) []any {
	if s == nil {
		return []any{nil, nil, nil, nil, nil, nil}
	}
	return []any{s.Pair, s.Direction, s.EntryPrice, s.StopLoss, s.TakeProfit, s.RiskReward}
}

// CreateMessage stores a message. An official signal also gets its pending
// metadata row in the same transaction.
func (db *PgTraderChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, *SignalMetadata, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	args := []any{params.Username, params.Room, params.Type, params.Text}
	args = append(args, signalArgs(params.Signal)...)
	args = append(args, params.IsOfficial, createdAt)

	msg, err := scanMessage(tx.QueryRowContext(ctx,
		"INSERT INTO messages (username, room, type, text, pair, direction, entry_price, stop_loss, "+
			"take_profit, risk_reward, is_official, reactions, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '{}'::jsonb, $12, $12) "+
			"RETURNING "+messageColumns,
		args...,
	))
	if err != nil {
		return Message{}, nil, err
	}

	var meta *SignalMetadata
	if msg.IsOfficial && msg.Type == MessageTypeSignal {
		m := SignalMetadata{
			MessageId:      msg.Id,
			AuthorUsername: msg.Username,
			Outcome:        "pending",
			PipsGained:     decimal.Zero,
			CreatedAt:      createdAt,
			Room:           msg.Room,
		}
		if msg.Signal != nil {
			m.Signal = *msg.Signal
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO official_signal_metadata (message_id, author_username, outcome, pips_gained, version, created_at) "+
				"VALUES ($1, $2, $3, $4, 0, $5)",
			m.MessageId,
			m.AuthorUsername,
			m.Outcome,
			m.PipsGained,
			m.CreatedAt,
		)
		if err != nil {
			return Message{}, nil, err
		}
		meta = &m
	}

	if err = tx.Commit(); err != nil {
		return Message{}, nil, err
	}

	return msg, meta, nil
}

func (db *PgTraderChatRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	))
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (db *PgTraderChatRepository) ListMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM ("+
			"SELECT "+messageColumns+" FROM messages WHERE room = $1 "+
			"ORDER BY created_at DESC, id DESC LIMIT $2"+
			") recent ORDER BY created_at ASC, id ASC",
		room,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgTraderChatRepository) UpdateMessageText(ctx context.Context, id int64, text string) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx,
		"UPDATE messages SET text = $2, edited = true, updated_at = $3 WHERE id = $1 RETURNING "+messageColumns,
		id,
		text,
		time.Now().UTC(),
	))
}

func (db *PgTraderChatRepository) UpdateMessageReactions(ctx context.Context, id int64, reactions map[string][]string) error {
	raw, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET reactions = $2 WHERE id = $1",
		id,
		raw,
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgTraderChatRepository) DeleteMessage(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgTraderChatRepository) DeleteRoomMessages(ctx context.Context, room string) ([]int64, error) {
	return db.deleteReturningIds(ctx, "DELETE FROM messages WHERE room = $1 RETURNING id", room)
}

// DeleteUserMessages removes a user's messages in room, or in every room
// when room is empty.
func (db *PgTraderChatRepository) DeleteUserMessages(ctx context.Context, username, room string) ([]int64, error) {
	if room == "" {
		return db.deleteReturningIds(ctx, "DELETE FROM messages WHERE username = $1 RETURNING id", username)
	}
	return db.deleteReturningIds(ctx, "DELETE FROM messages WHERE username = $1 AND room = $2 RETURNING id", username, room)
}

func (db *PgTraderChatRepository) deleteReturningIds(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgTraderChatRepository) GetSignalMetadata(ctx context.Context, messageId int64) (SignalMetadata, error) {
	return scanMetadata(db.conn.QueryRowContext(ctx,
		metadataSelect+" WHERE m.message_id = $1 LIMIT 1",
		messageId,
	))
}

func (db *PgTraderChatRepository) ListSignalMetadataByMessageIds(ctx context.Context, ids []int64) ([]SignalMetadata, error) {
	if len(ids) == 0 {
		return []SignalMetadata{}, nil
	}

	return db.queryMetadata(ctx, metadataSelect+" WHERE m.message_id = ANY($1) ORDER BY m.created_at ASC", pq.Array(ids))
}

func (db *PgTraderChatRepository) ListSignalMetadata(ctx context.Context, filter SignalFilter) ([]SignalMetadata, error) {
	query := metadataSelect + " WHERE 1 = 1"
	var args []any

	if filter.Author != "" {
		args = append(args, filter.Author)
		query += fmt.Sprintf(" AND m.author_username = $%d", len(args))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		query += fmt.Sprintf(" AND m.outcome = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND m.created_at >= $%d", len(args))
	}

	return db.queryMetadata(ctx, query+" ORDER BY m.created_at ASC", args...)
}

func (db *PgTraderChatRepository) queryMetadata(ctx context.Context, query string, args ...any) ([]SignalMetadata, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]SignalMetadata, 0)
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal metadata: %w", err)
		}
		result = append(result, meta)
	}

	return result, rows.Err()
}

// CloseSignal moves a pending signal to its outcome. The update only applies
// while the row is still pending at the expected version; otherwise
// ErrConflict is returned and nothing changes.
func (db *PgTraderChatRepository) CloseSignal(ctx context.Context, params CloseSignalParams) (SignalMetadata, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE official_signal_metadata "+
			"SET outcome = $2, close_price = $3, pips_gained = $4, closed_at = $5, closed_by = $6, version = version + 1 "+
			"WHERE message_id = $1 AND outcome = 'pending' AND version = $7",
		params.MessageId,
		params.Outcome,
		params.ClosePrice,
		params.PipsGained,
		params.ClosedAt,
		params.ClosedBy,
		params.ExpectedVersion,
	)
	if err != nil {
		return SignalMetadata{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return SignalMetadata{}, err
	}
	if n == 0 {
		return SignalMetadata{}, ErrConflict
	}

	return db.GetSignalMetadata(ctx, params.MessageId)
}

func (db *PgTraderChatRepository) Follow(ctx context.Context, follower, following string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO follows (follower_username, following_username, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (follower_username, following_username) DO NOTHING",
		follower,
		following,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgTraderChatRepository) Unfollow(ctx context.Context, follower, following string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM follows WHERE follower_username = $1 AND following_username = $2",
		follower,
		following,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgTraderChatRepository) ListFollowers(ctx context.Context, username string) ([]string, error) {
	return db.queryUsernames(ctx,
		"SELECT follower_username FROM follows WHERE following_username = $1 ORDER BY created_at ASC",
		username,
	)
}

func (db *PgTraderChatRepository) ListFollowing(ctx context.Context, username string) ([]string, error) {
	return db.queryUsernames(ctx,
		"SELECT following_username FROM follows WHERE follower_username = $1 ORDER BY created_at ASC",
		username,
	)
}

func (db *PgTraderChatRepository) queryUsernames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func (db *PgTraderChatRepository) CountFollows(ctx context.Context, username string) (FollowCounts, error) {
	var c FollowCounts
	err := db.conn.QueryRowContext(ctx,
		"SELECT "+
			"(SELECT count(*) FROM follows WHERE following_username = $1), "+
			"(SELECT count(*) FROM follows WHERE follower_username = $1)",
		username,
	).Scan(&c.Followers, &c.Following)

	return c, err
}

func (db *PgTraderChatRepository) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO notifications (username, type, title, message, read, created_at) "+
			"VALUES ($1, $2, $3, $4, false, $5) RETURNING id",
		n.Username,
		n.Type,
		n.Title,
		n.Message,
		n.CreatedAt,
	).Scan(&n.Id)

	return n, err
}

func (db *PgTraderChatRepository) ListNotifications(ctx context.Context, username string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, username, type, title, message, read, created_at FROM notifications "+
			"WHERE username = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		username,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.Id, &n.Username, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgTraderChatRepository) MarkNotificationRead(ctx context.Context, id int64, username string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET read = true WHERE id = $1 AND username = $2",
		id,
		username,
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (db *PgTraderChatRepository) MarkAllNotificationsRead(ctx context.Context, username string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET read = true WHERE username = $1 AND read = false",
		username,
	)

	return err
}

func (db *PgTraderChatRepository) GetNotificationPreferences(ctx context.Context, username string) (NotificationPreferences, error) {
	var p NotificationPreferences
	err := db.conn.QueryRowContext(ctx,
		"SELECT username, browser_notifications, email_notifications, notify_new_signals, "+
			"notify_signal_outcomes, notify_followed_traders, notify_mentions, updated_at "+
			"FROM notification_preferences WHERE username = $1 LIMIT 1",
		username,
	).Scan(
		&p.Username,
		&p.BrowserNotifications,
		&p.EmailNotifications,
		&p.NotifyNewSignals,
		&p.NotifySignalOutcomes,
		&p.NotifyFollowedTraders,
		&p.NotifyMentions,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgTraderChatRepository) UpsertNotificationPreferences(ctx context.Context, p NotificationPreferences) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO notification_preferences (username, browser_notifications, email_notifications, "+
			"notify_new_signals, notify_signal_outcomes, notify_followed_traders, notify_mentions, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"ON CONFLICT (username) DO UPDATE SET "+
			"browser_notifications = EXCLUDED.browser_notifications, "+
			"email_notifications = EXCLUDED.email_notifications, "+
			"notify_new_signals = EXCLUDED.notify_new_signals, "+
			"notify_signal_outcomes = EXCLUDED.notify_signal_outcomes, "+
			"notify_followed_traders = EXCLUDED.notify_followed_traders, "+
			"notify_mentions = EXCLUDED.notify_mentions, "+
			"updated_at = EXCLUDED.updated_at",
		p.Username,
		p.BrowserNotifications,
		p.EmailNotifications,
		p.NotifyNewSignals,
		p.NotifySignalOutcomes,
		p.NotifyFollowedTraders,
		p.NotifyMentions,
		time.Now().UTC(),
	)

	return err
}

// expectRows turns a write that touched nothing into sql.ErrNoRows.
func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
