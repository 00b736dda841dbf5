package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockTraderChatRepository struct {
	mock.Mock
}

func (m *MockTraderChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockTraderChatRepository) GetOrCreateUser(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTraderChatRepository) GetUser(ctx context.Context, username string) (User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTraderChatRepository) ListUsers(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockTraderChatRepository) UpdateUserTier(ctx context.Context, username, tier string) (User, error) {
	args := m.Called(ctx, username, tier)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTraderChatRepository) CreatePrivateRoom(ctx context.Context, params CreatePrivateRoomParams) (PrivateRoom, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(PrivateRoom), args.Error(1)
}
func (m *MockTraderChatRepository) GetPrivateRoom(ctx context.Context, roomId string) (PrivateRoom, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(PrivateRoom), args.Error(1)
}
func (m *MockTraderChatRepository) ListRoomsForUser(ctx context.Context, username string) ([]PrivateRoom, error) {
	args := m.Called(ctx, username)
	return args.Get(0).([]PrivateRoom), args.Error(1)
}
func (m *MockTraderChatRepository) GetMembership(ctx context.Context, roomId, username string) (RoomMembership, error) {
	args := m.Called(ctx, roomId, username)
	return args.Get(0).(RoomMembership), args.Error(1)
}
func (m *MockTraderChatRepository) UpsertMembership(ctx context.Context, membership RoomMembership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}
func (m *MockTraderChatRepository) DeleteMembership(ctx context.Context, roomId, username string) error {
	args := m.Called(ctx, roomId, username)
	return args.Error(0)
}
func (m *MockTraderChatRepository) CreateInvitation(ctx context.Context, params CreateInvitationParams) (RoomInvitation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(RoomInvitation), args.Error(1)
}
func (m *MockTraderChatRepository) GetInvitation(ctx context.Context, token string) (RoomInvitation, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(RoomInvitation), args.Error(1)
}
func (m *MockTraderChatRepository) AcceptInvitation(ctx context.Context, token string) (RoomMembership, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(RoomMembership), args.Error(1)
}
func (m *MockTraderChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, *SignalMetadata, error) {
	args := m.Called(ctx, params)
	if meta, ok := args.Get(1).(*SignalMetadata); ok {
		return args.Get(0).(Message), meta, args.Error(2)
	}
	return args.Get(0).(Message), nil, args.Error(2)
}
func (m *MockTraderChatRepository) GetMessage(ctx context.Context, id int64) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTraderChatRepository) ListMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	args := m.Called(ctx, room, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockTraderChatRepository) UpdateMessageText(ctx context.Context, id int64, text string) (Message, error) {
	args := m.Called(ctx, id, text)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTraderChatRepository) UpdateMessageReactions(ctx context.Context, id int64, reactions map[string][]string) error {
	args := m.Called(ctx, id, reactions)
	return args.Error(0)
}
func (m *MockTraderChatRepository) DeleteMessage(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockTraderChatRepository) DeleteRoomMessages(ctx context.Context, room string) ([]int64, error) {
	args := m.Called(ctx, room)
	return args.Get(0).([]int64), args.Error(1)
}
func (m *MockTraderChatRepository) DeleteUserMessages(ctx context.Context, username, room string) ([]int64, error) {
	args := m.Called(ctx, username, room)
	return args.Get(0).([]int64), args.Error(1)
}
func (m *MockTraderChatRepository) GetSignalMetadata(ctx context.Context, messageId int64) (SignalMetadata, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(SignalMetadata), args.Error(1)
}
func (m *MockTraderChatRepository) ListSignalMetadataByMessageIds(ctx context.Context, ids []int64) ([]SignalMetadata, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]SignalMetadata), args.Error(1)
}
func (m *MockTraderChatRepository) ListSignalMetadata(ctx context.Context, filter SignalFilter) ([]SignalMetadata, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]SignalMetadata), args.Error(1)
}
func (m *MockTraderChatRepository) CloseSignal(ctx context.Context, params CloseSignalParams) (SignalMetadata, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(SignalMetadata), args.Error(1)
}
func (m *MockTraderChatRepository) Follow(ctx context.Context, follower, following string) (bool, error) {
	args := m.Called(ctx, follower, following)
	return args.Bool(0), args.Error(1)
}
func (m *MockTraderChatRepository) Unfollow(ctx context.Context, follower, following string) (bool, error) {
	args := m.Called(ctx, follower, following)
	return args.Bool(0), args.Error(1)
}
func (m *MockTraderChatRepository) ListFollowers(ctx context.Context, username string) ([]string, error) {
	args := m.Called(ctx, username)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockTraderChatRepository) ListFollowing(ctx context.Context, username string) ([]string, error) {
	args := m.Called(ctx, username)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockTraderChatRepository) CountFollows(ctx context.Context, username string) (FollowCounts, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(FollowCounts), args.Error(1)
}
func (m *MockTraderChatRepository) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockTraderChatRepository) ListNotifications(ctx context.Context, username string, limit int) ([]Notification, error) {
	args := m.Called(ctx, username, limit)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockTraderChatRepository) MarkNotificationRead(ctx context.Context, id int64, username string) error {
	args := m.Called(ctx, id, username)
	return args.Error(0)
}
func (m *MockTraderChatRepository) MarkAllNotificationsRead(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}
func (m *MockTraderChatRepository) GetNotificationPreferences(ctx context.Context, username string) (NotificationPreferences, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(NotificationPreferences), args.Error(1)
}
func (m *MockTraderChatRepository) UpsertNotificationPreferences(ctx context.Context, prefs NotificationPreferences) error {
	args := m.Called(ctx, prefs)
	return args.Error(0)
}
