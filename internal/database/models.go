package database

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MessageTypeText   = "text"
	MessageTypeSignal = "signal"

	RoleOwner     = "owner"
	RoleModerator = "moderator"
	RoleMember    = "member"

	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
)

type User struct {
	Id               int64
	Username         string
	SubscriptionTier string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PrivateRoom struct {
	RoomId        string
	Name          string
	Description   string
	OwnerUsername string
	CreatedAt     time.Time
	// Role of the requesting user, filled by ListRoomsForUser.
	Role string
}

type RoomMembership struct {
	RoomId    string
	Username  string
	Role      string
	CreatedAt time.Time
}

type RoomInvitation struct {
	Token      string
	RoomId     string
	InvitedBy  string
	Invitee    string
	Status     string
	CreatedAt  time.Time
	AcceptedAt sql.NullTime
}

type Signal struct {
	Pair       string
	Direction  string
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	RiskReward decimal.Decimal
}

type Message struct {
	Id         int64
	Username   string
	Room       string
	Type       string
	Text       string
	Signal     *Signal
	IsOfficial bool
	Edited     bool
	Reactions  map[string][]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type SignalMetadata struct {
	MessageId      int64
	AuthorUsername string
	Outcome        string
	ClosePrice     decimal.NullDecimal
	PipsGained     decimal.Decimal
	ClosedAt       sql.NullTime
	ClosedBy       sql.NullString
	Version        int
	CreatedAt      time.Time
	// Room and Signal are joined from the owning message on reads.
	Room   string
	Signal Signal
}

type Follow struct {
	FollowerUsername  string
	FollowingUsername string
	CreatedAt         time.Time
}

type Notification struct {
	Id        int64
	Username  string
	Type      string
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

type NotificationPreferences struct {
	Username              string
	BrowserNotifications  bool
	EmailNotifications    bool
	NotifyNewSignals      bool
	NotifySignalOutcomes  bool
	NotifyFollowedTraders bool
	NotifyMentions        bool
	UpdatedAt             time.Time
}

// DefaultNotificationPreferences is used for users that never saved any.
func DefaultNotificationPreferences(username string) NotificationPreferences {
	return NotificationPreferences{
		Username:              username,
		BrowserNotifications:  true,
		EmailNotifications:    true,
		NotifyNewSignals:      true,
		NotifySignalOutcomes:  true,
		NotifyFollowedTraders: true,
		NotifyMentions:        true,
	}
}

type CreateMessageParams struct {
	Username   string
	Room       string
	Type       string
	Text       string
	Signal     *Signal
	IsOfficial bool
	CreatedAt  time.Time
}

type CreatePrivateRoomParams struct {
	RoomId        string
	Name          string
	Description   string
	OwnerUsername string
}

type CreateInvitationParams struct {
	Token     string
	RoomId    string
	InvitedBy string
	Invitee   string
}

type CloseSignalParams struct {
	MessageId       int64
	Outcome         string
	ClosePrice      decimal.Decimal
	PipsGained      decimal.Decimal
	ClosedAt        time.Time
	ClosedBy        string
	ExpectedVersion int
}

// SignalFilter narrows ListSignalMetadata. Zero fields do not filter.
type SignalFilter struct {
	Author  string
	Outcome string
	Since   time.Time
}

type FollowCounts struct {
	Followers int
	Following int
}
