package server

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/trader-chat/internal/types"
	"github.com/shopspring/decimal"
)

// Client events.
const (
	EvRegisterUser         = "register_user"
	EvJoinRoom             = "join_room"
	EvLeaveRoom            = "leave_room"
	EvSendMessage          = "send_message"
	EvEditMessage          = "edit_message"
	EvDeleteMessage        = "delete_message"
	EvAddReaction          = "add_reaction"
	EvTyping               = "typing"
	EvStopTyping           = "stop_typing"
	EvUpdateSignalOutcome  = "update_signal_outcome"
	EvFollowUser           = "follow_user"
	EvUnfollowUser         = "unfollow_user"
	EvUpgradeSubscription  = "upgrade_subscription"
	EvCreatePrivateRoom    = "create_private_room"
	EvInviteToRoom         = "invite_to_room"
	EvAcceptInvitation     = "accept_invitation"
	EvRemoveMember         = "remove_member"
	EvGetMyRooms           = "get_my_rooms"
	EvGetLeaderboard       = "get_leaderboard"
	EvGetNotifications     = "get_notifications"
	EvMarkNotificationRead = "mark_notification_read"
	EvMarkAllRead          = "mark_all_read"
	EvGetPreferences       = "get_preferences"
	EvUpdatePreferences    = "update_preferences"
)

// Server events.
const (
	EvUserRegistered       = "user_registered"
	EvPreviousMessages     = "previous_messages"
	EvSignalMetadata       = "signal_metadata"
	EvRoomLocked           = "room_locked"
	EvRoomLeft             = "room_left"
	EvOnlineUsers          = "online_users"
	EvNewMessage           = "new_message"
	EvMessageUpdated       = "message_updated"
	EvMessageDeleted       = "message_deleted"
	EvMessageReacted       = "message_reacted"
	EvUserTyping           = "user_typing"
	EvUserStopTyping       = "user_stop_typing"
	EvSignalUpdated        = "signal_updated"
	EvFollowSuccess        = "follow_success"
	EvUnfollowSuccess      = "unfollow_success"
	EvUpgradeSuccess       = "upgrade_success"
	EvRoomCreated          = "room_created"
	EvInvitationSent       = "invitation_sent"
	EvInvitationAccepted   = "invitation_accepted"
	EvMemberRemoved        = "member_removed"
	EvMyRooms              = "my_rooms"
	EvLeaderboardData      = "leaderboard_data"
	EvNotificationsLoaded  = "notifications_loaded"
	EvNewNotification      = "new_notification"
	EvNotificationRead     = "notification_read"
	EvAllNotificationsRead = "all_notifications_read"
	EvPreferencesLoaded    = "preferences_loaded"
	EvPreferencesUpdated   = "preferences_updated"
	EvInternalError        = "internal_error"
)

const (
	maxUsernameLength = 32
	maxTextLength     = 2000
	maxRoomNameLength = 64
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a request from a client. Exactly one event field must be
// set.
type ClientMessage struct {
	BaseMessage
	RegisterUser         *RegisterUser         `json:"register_user,omitempty"`
	JoinRoom             *JoinRoom             `json:"join_room,omitempty"`
	LeaveRoom            *LeaveRoom            `json:"leave_room,omitempty"`
	SendMessage          *SendMessage          `json:"send_message,omitempty"`
	EditMessage          *EditMessage          `json:"edit_message,omitempty"`
	DeleteMessage        *DeleteMessage        `json:"delete_message,omitempty"`
	AddReaction          *AddReaction          `json:"add_reaction,omitempty"`
	Typing               *Typing               `json:"typing,omitempty"`
	StopTyping           *Typing               `json:"stop_typing,omitempty"`
	UpdateSignalOutcome  *UpdateSignalOutcome  `json:"update_signal_outcome,omitempty"`
	FollowUser           *FollowUser           `json:"follow_user,omitempty"`
	UnfollowUser         *FollowUser           `json:"unfollow_user,omitempty"`
	UpgradeSubscription  *UpgradeSubscription  `json:"upgrade_subscription,omitempty"`
	CreatePrivateRoom    *CreatePrivateRoom    `json:"create_private_room,omitempty"`
	InviteToRoom         *InviteToRoom         `json:"invite_to_room,omitempty"`
	AcceptInvitation     *AcceptInvitation     `json:"accept_invitation,omitempty"`
	RemoveMember         *RemoveMember         `json:"remove_member,omitempty"`
	GetMyRooms           *Actor                `json:"get_my_rooms,omitempty"`
	GetLeaderboard       *GetLeaderboard       `json:"get_leaderboard,omitempty"`
	GetNotifications     *Actor                `json:"get_notifications,omitempty"`
	MarkNotificationRead *MarkNotificationRead `json:"mark_notification_read,omitempty"`
	MarkAllRead          *Actor                `json:"mark_all_read,omitempty"`
	GetPreferences       *Actor                `json:"get_preferences,omitempty"`
	UpdatePreferences    *UpdatePreferences    `json:"update_preferences,omitempty"`
	client               *Client               `json:"-"`
}

type validator interface {
	Validate() error
}

// Event returns the name of the single event carried by the message and its
// payload.
func (m *ClientMessage) Event() (string, validator, error) {
	candidates := []struct {
		name    string
		set     bool
		payload validator
	}{
		{EvRegisterUser, m.RegisterUser != nil, m.RegisterUser},
		{EvJoinRoom, m.JoinRoom != nil, m.JoinRoom},
		{EvLeaveRoom, m.LeaveRoom != nil, m.LeaveRoom},
		{EvSendMessage, m.SendMessage != nil, m.SendMessage},
		{EvEditMessage, m.EditMessage != nil, m.EditMessage},
		{EvDeleteMessage, m.DeleteMessage != nil, m.DeleteMessage},
		{EvAddReaction, m.AddReaction != nil, m.AddReaction},
		{EvTyping, m.Typing != nil, m.Typing},
		{EvStopTyping, m.StopTyping != nil, m.StopTyping},
		{EvUpdateSignalOutcome, m.UpdateSignalOutcome != nil, m.UpdateSignalOutcome},
		{EvFollowUser, m.FollowUser != nil, m.FollowUser},
		{EvUnfollowUser, m.UnfollowUser != nil, m.UnfollowUser},
		{EvUpgradeSubscription, m.UpgradeSubscription != nil, m.UpgradeSubscription},
		{EvCreatePrivateRoom, m.CreatePrivateRoom != nil, m.CreatePrivateRoom},
		{EvInviteToRoom, m.InviteToRoom != nil, m.InviteToRoom},
		{EvAcceptInvitation, m.AcceptInvitation != nil, m.AcceptInvitation},
		{EvRemoveMember, m.RemoveMember != nil, m.RemoveMember},
		{EvGetMyRooms, m.GetMyRooms != nil, m.GetMyRooms},
		{EvGetLeaderboard, m.GetLeaderboard != nil, m.GetLeaderboard},
		{EvGetNotifications, m.GetNotifications != nil, m.GetNotifications},
		{EvMarkNotificationRead, m.MarkNotificationRead != nil, m.MarkNotificationRead},
		{EvMarkAllRead, m.MarkAllRead != nil, m.MarkAllRead},
		{EvGetPreferences, m.GetPreferences != nil, m.GetPreferences},
		{EvUpdatePreferences, m.UpdatePreferences != nil, m.UpdatePreferences},
	}

	var (
		name    string
		payload validator
		count   int
	)
	for _, c := range candidates {
		if c.set {
			name, payload = c.name, c.payload
			count++
		}
	}

	switch count {
	case 0:
		return "", nil, errors.New("message carries no event")
	case 1:
		return name, payload, nil
	default:
		return "", nil, fmt.Errorf("message carries %d events, expected one", count)
	}
}

// Actor is the payload of events that only name the acting user.
type Actor struct {
	Username string `json:"username,omitempty"`
}

func (a *Actor) Validate() error { return nil }

type RegisterUser struct {
	Username string `json:"username"`
}

func (r *RegisterUser) Validate() error {
	return validateUsername(r.Username)
}

func validateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return fmt.Errorf("username must be at most %d characters", maxUsernameLength)
	}
	if strings.ContainsAny(username, " \t\n@:") {
		return errors.New("username must not contain whitespace, '@' or ':'")
	}
	return nil
}

type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username,omitempty"`
}

func (j *JoinRoom) Validate() error {
	if strings.TrimSpace(j.Room) == "" {
		return errors.New("room is required")
	}
	return nil
}

// LeaveRoom leaves the current room. Room is optional.
type LeaveRoom struct {
	Room string `json:"room,omitempty"`
}

func (l *LeaveRoom) Validate() error { return nil }

type SignalInput struct {
	Pair       string          `json:"pair"`
	Direction  string          `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
}

type SendMessage struct {
	Type       string       `json:"type"`
	Username   string       `json:"username,omitempty"`
	Room       string       `json:"room"`
	Text       string       `json:"text,omitempty"`
	Signal     *SignalInput `json:"signal,omitempty"`
	IsOfficial bool         `json:"isOfficial,omitempty"`
}

func (s *SendMessage) Validate() error {
	if strings.TrimSpace(s.Room) == "" {
		return errors.New("room is required")
	}

	switch s.Type {
	case "", "text":
		if strings.TrimSpace(s.Text) == "" {
			return errors.New("text is required")
		}
		if utf8.RuneCountInString(s.Text) > maxTextLength {
			return fmt.Errorf("text must be at most %d characters", maxTextLength)
		}
		if s.IsOfficial {
			return errors.New("only signals can be official")
		}
	case "signal":
		if s.Signal == nil {
			return errors.New("signal is required")
		}
	default:
		return fmt.Errorf("invalid message type %q", s.Type)
	}
	return nil
}

type EditMessage struct {
	MessageId int64  `json:"messageId"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
}

func (e *EditMessage) Validate() error {
	if e.MessageId <= 0 {
		return errors.New("messageId is required")
	}
	if strings.TrimSpace(e.Text) == "" {
		return errors.New("text is required")
	}
	if utf8.RuneCountInString(e.Text) > maxTextLength {
		return fmt.Errorf("text must be at most %d characters", maxTextLength)
	}
	return nil
}

type DeleteMessage struct {
	MessageId int64  `json:"messageId"`
	Username  string `json:"username,omitempty"`
	Room      string `json:"room,omitempty"`
}

func (d *DeleteMessage) Validate() error {
	if d.MessageId <= 0 {
		return errors.New("messageId is required")
	}
	return nil
}

type AddReaction struct {
	MessageId int64  `json:"messageId"`
	Username  string `json:"username,omitempty"`
	Emoji     string `json:"emoji"`
}

func (a *AddReaction) Validate() error {
	if a.MessageId <= 0 {
		return errors.New("messageId is required")
	}
	if a.Emoji == "" || utf8.RuneCountInString(a.Emoji) > 8 {
		return errors.New("a single emoji is required")
	}
	return nil
}

type Typing struct {
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
}

func (t *Typing) Validate() error { return nil }

type UpdateSignalOutcome struct {
	MessageId  int64           `json:"messageId"`
	Username   string          `json:"username,omitempty"`
	Outcome    string          `json:"outcome"`
	ClosePrice decimal.Decimal `json:"closePrice"`
	ClosedBy   string          `json:"closedBy,omitempty"`
}

func (u *UpdateSignalOutcome) Validate() error {
	if u.MessageId <= 0 {
		return errors.New("messageId is required")
	}
	if strings.TrimSpace(u.Outcome) == "" {
		return errors.New("outcome is required")
	}
	return nil
}

type FollowUser struct {
	Follower  string `json:"follower,omitempty"`
	Following string `json:"following"`
}

func (f *FollowUser) Validate() error {
	if strings.TrimSpace(f.Following) == "" {
		return errors.New("following is required")
	}
	return nil
}

type UpgradeSubscription struct {
	Username string `json:"username,omitempty"`
	Tier     string `json:"tier"`
}

func (u *UpgradeSubscription) Validate() error {
	if strings.TrimSpace(u.Tier) == "" {
		return errors.New("tier is required")
	}
	return nil
}

type CreatePrivateRoom struct {
	Username    string `json:"username,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (c *CreatePrivateRoom) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return fmt.Errorf("name must be at most %d characters", maxRoomNameLength)
	}
	return nil
}

type InviteToRoom struct {
	Room    string `json:"room"`
	Invitee string `json:"invitee"`
}

func (i *InviteToRoom) Validate() error {
	if strings.TrimSpace(i.Room) == "" {
		return errors.New("room is required")
	}
	return validateUsername(i.Invitee)
}

type AcceptInvitation struct {
	Token string `json:"token"`
}

func (a *AcceptInvitation) Validate() error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("token is required")
	}
	return nil
}

type RemoveMember struct {
	Room   string `json:"room"`
	Member string `json:"member"`
}

func (r *RemoveMember) Validate() error {
	if strings.TrimSpace(r.Room) == "" {
		return errors.New("room is required")
	}
	if strings.TrimSpace(r.Member) == "" {
		return errors.New("member is required")
	}
	return nil
}

type GetLeaderboard struct {
	Period string `json:"period,omitempty"`
	SortBy string `json:"sortBy,omitempty"`
}

func (g *GetLeaderboard) Validate() error { return nil }

type MarkNotificationRead struct {
	NotificationId int64 `json:"notificationId"`
}

func (m *MarkNotificationRead) Validate() error {
	if m.NotificationId <= 0 {
		return errors.New("notificationId is required")
	}
	return nil
}

type UpdatePreferences struct {
	Username    string                        `json:"username,omitempty"`
	Preferences types.NotificationPreferences `json:"preferences"`
}

func (u *UpdatePreferences) Validate() error { return nil }

// ServerMessage is an event sent to one or more clients. The unexported
// fields route broadcasts through the chat server.
type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`

	room     string
	username string
	all      bool
	skip     *Client
}

type ErrorData struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	RequiredTier string    `json:"requiredTier,omitempty"`
}

type RoomLocked struct {
	Room         string `json:"room"`
	RequiredTier string `json:"requiredTier"`
	Message      string `json:"message"`
}

type OnlineUsers struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type SignalMetadataBatch struct {
	Room     string                 `json:"room"`
	Metadata []types.SignalMetadata `json:"metadata"`
}

type MessageDeleted struct {
	MessageId int64  `json:"messageId"`
	Room      string `json:"room,omitempty"`
}

type MessageReacted struct {
	MessageId int64               `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

type UserTyping struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type FollowResult struct {
	Follower  string `json:"follower"`
	Following string `json:"following"`
	Changed   bool   `json:"changed"`
}

type MemberRemoved struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

func Reply(id int, event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func ErrorReply(id int, family string, e *EventError) *ServerMessage {
	return Reply(id, family, ErrorData{
		Kind:         e.Kind,
		Message:      e.Message,
		RequiredTier: e.RequiredTier,
	})
}

func ToRoom(room, event string, data any) *ServerMessage {
	msg := Reply(0, event, data)
	msg.room = room
	return msg
}

func ToUser(username, event string, data any) *ServerMessage {
	msg := Reply(0, event, data)
	msg.username = username
	return msg
}

func ToAll(event string, data any) *ServerMessage {
	msg := Reply(0, event, data)
	msg.all = true
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
