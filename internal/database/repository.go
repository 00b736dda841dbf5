package database

import "context"

type TraderChatRepository interface {
	Ping() error

	GetOrCreateUser(ctx context.Context, username string) (User, error)
	GetUser(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserTier(ctx context.Context, username, tier string) (User, error)

	CreatePrivateRoom(ctx context.Context, params CreatePrivateRoomParams) (PrivateRoom, error)
	GetPrivateRoom(ctx context.Context, roomId string) (PrivateRoom, error)
	ListRoomsForUser(ctx context.Context, username string) ([]PrivateRoom, error)
	GetMembership(ctx context.Context, roomId, username string) (RoomMembership, error)
	UpsertMembership(ctx context.Context, membership RoomMembership) error
	DeleteMembership(ctx context.Context, roomId, username string) error
	CreateInvitation(ctx context.Context, params CreateInvitationParams) (RoomInvitation, error)
	GetInvitation(ctx context.Context, token string) (RoomInvitation, error)
	AcceptInvitation(ctx context.Context, token string) (RoomMembership, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, *SignalMetadata, error)
	GetMessage(ctx context.Context, id int64) (Message, error)
	ListMessages(ctx context.Context, room string, limit int) ([]Message, error)
	UpdateMessageText(ctx context.Context, id int64, text string) (Message, error)
	UpdateMessageReactions(ctx context.Context, id int64, reactions map[string][]string) error
	DeleteMessage(ctx context.Context, id int64) error
	DeleteRoomMessages(ctx context.Context, room string) ([]int64, error)
	DeleteUserMessages(ctx context.Context, username, room string) ([]int64, error)

	GetSignalMetadata(ctx context.Context, messageId int64) (SignalMetadata, error)
	ListSignalMetadataByMessageIds(ctx context.Context, ids []int64) ([]SignalMetadata, error)
	ListSignalMetadata(ctx context.Context, filter SignalFilter) ([]SignalMetadata, error)
	CloseSignal(ctx context.Context, params CloseSignalParams) (SignalMetadata, error)

	Follow(ctx context.Context, follower, following string) (bool, error)
	Unfollow(ctx context.Context, follower, following string) (bool, error)
	ListFollowers(ctx context.Context, username string) ([]string, error)
	ListFollowing(ctx context.Context, username string) ([]string, error)
	CountFollows(ctx context.Context, username string) (FollowCounts, error)

	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, username string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, username string) error
	MarkAllNotificationsRead(ctx context.Context, username string) error
	GetNotificationPreferences(ctx context.Context, username string) (NotificationPreferences, error)
	UpsertNotificationPreferences(ctx context.Context, prefs NotificationPreferences) error
}
