package types

import (
	"time"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/shopspring/decimal"
)

type User struct {
	Username  string    `json:"username"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

type Room struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"private"`
	RequiredTier  string `json:"requiredTier,omitempty"`
	Locked        bool   `json:"locked,omitempty"`
	OwnerUsername string `json:"ownerUsername,omitempty"`
	Role          string `json:"role,omitempty"`
}

type Signal struct {
	Pair       string          `json:"pair"`
	Direction  string          `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	RiskReward decimal.Decimal `json:"riskReward"`
}

type Message struct {
	Id         int64               `json:"id"`
	Username   string              `json:"username"`
	Room       string              `json:"room"`
	Type       string              `json:"type"`
	Text       string              `json:"text,omitempty"`
	Signal     *Signal             `json:"signal,omitempty"`
	IsOfficial bool                `json:"isOfficial"`
	Edited     bool                `json:"edited"`
	Reactions  map[string][]string `json:"reactions"`
	Timestamp  time.Time           `json:"timestamp"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

type SignalMetadata struct {
	MessageId      int64            `json:"messageId"`
	AuthorUsername string           `json:"authorUsername"`
	Room           string           `json:"room"`
	Outcome        string           `json:"outcome"`
	ClosePrice     *decimal.Decimal `json:"closePrice,omitempty"`
	PipsGained     decimal.Decimal  `json:"pipsGained"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
	ClosedBy       string           `json:"closedBy,omitempty"`
	Version        int              `json:"version"`
	Signal         Signal           `json:"signal"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type Notification struct {
	Id        int64     `json:"id"`
	Username  string    `json:"username"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type NotificationPreferences struct {
	BrowserNotifications  bool `json:"browserNotifications"`
	EmailNotifications    bool `json:"emailNotifications"`
	NotifyNewSignals      bool `json:"notifyNewSignals"`
	NotifySignalOutcomes  bool `json:"notifySignalOutcomes"`
	NotifyFollowedTraders bool `json:"notifyFollowedTraders"`
	NotifyMentions        bool `json:"notifyMentions"`
}

type Invitation struct {
	Token     string    `json:"token"`
	RoomId    string    `json:"roomId"`
	InvitedBy string    `json:"invitedBy"`
	Invitee   string    `json:"invitee"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Profile struct {
	Username  string    `json:"username"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"createdAt"`
	Followers int       `json:"followers"`
	Following int       `json:"following"`
}

func UserFromModel(u database.User) User {
	return User{
		Username:  u.Username,
		Tier:      u.SubscriptionTier,
		CreatedAt: u.CreatedAt,
	}
}

func PrivateRoomFromModel(r database.PrivateRoom) Room {
	return Room{
		Id:            r.RoomId,
		Name:          r.Name,
		Description:   r.Description,
		Private:       true,
		OwnerUsername: r.OwnerUsername,
		Role:          r.Role,
	}
}

func SignalFromModel(s database.Signal) Signal {
	return Signal{
		Pair:       s.Pair,
		Direction:  s.Direction,
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		RiskReward: s.RiskReward,
	}
}

func MessageFromModel(m database.Message) Message {
	msg := Message{
		Id:         m.Id,
		Username:   m.Username,
		Room:       m.Room,
		Type:       m.Type,
		Text:       m.Text,
		IsOfficial: m.IsOfficial,
		Edited:     m.Edited,
		Reactions:  m.Reactions,
		Timestamp:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	if m.Signal != nil {
		s := SignalFromModel(*m.Signal)
		msg.Signal = &s
	}
	return msg
}

func MessagesFromModel(ms []database.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, MessageFromModel(m))
	}
	return out
}

func SignalMetadataFromModel(m database.SignalMetadata) SignalMetadata {
	meta := SignalMetadata{
		MessageId:      m.MessageId,
		AuthorUsername: m.AuthorUsername,
		Room:           m.Room,
		Outcome:        m.Outcome,
		PipsGained:     m.PipsGained,
		Version:        m.Version,
		Signal:         SignalFromModel(m.Signal),
		CreatedAt:      m.CreatedAt,
	}
	if m.ClosePrice.Valid {
		p := m.ClosePrice.Decimal
		meta.ClosePrice = &p
	}
	if m.ClosedAt.Valid {
		t := m.ClosedAt.Time
		meta.ClosedAt = &t
	}
	if m.ClosedBy.Valid {
		meta.ClosedBy = m.ClosedBy.String
	}
	return meta
}

func SignalMetadataListFromModel(ms []database.SignalMetadata) []SignalMetadata {
	out := make([]SignalMetadata, 0, len(ms))
	for _, m := range ms {
		out = append(out, SignalMetadataFromModel(m))
	}
	return out
}

func NotificationFromModel(n database.Notification) Notification {
	return Notification{
		Id:        n.Id,
		Username:  n.Username,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func PreferencesFromModel(p database.NotificationPreferences) NotificationPreferences {
	return NotificationPreferences{
		BrowserNotifications:  p.BrowserNotifications,
		EmailNotifications:    p.EmailNotifications,
		NotifyNewSignals:      p.NotifyNewSignals,
		NotifySignalOutcomes:  p.NotifySignalOutcomes,
		NotifyFollowedTraders: p.NotifyFollowedTraders,
		NotifyMentions:        p.NotifyMentions,
	}
}

// Model converts the wire preferences back to a row for username.
func (p NotificationPreferences) Model(username string) database.NotificationPreferences {
	return database.NotificationPreferences{
		Username:              username,
		BrowserNotifications:  p.BrowserNotifications,
		EmailNotifications:    p.EmailNotifications,
		NotifyNewSignals:      p.NotifyNewSignals,
		NotifySignalOutcomes:  p.NotifySignalOutcomes,
		NotifyFollowedTraders: p.NotifyFollowedTraders,
		NotifyMentions:        p.NotifyMentions,
	}
}

func InvitationFromModel(i database.RoomInvitation) Invitation {
	return Invitation{
		Token:     i.Token,
		RoomId:    i.RoomId,
		InvitedBy: i.InvitedBy,
		Invitee:   i.Invitee,
		Status:    i.Status,
		CreatedAt: i.CreatedAt,
	}
}
