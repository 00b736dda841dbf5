package server

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/testutil"
	"github.com/npezzotti/trader-chat/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestChatServer creates a running ChatServer that is stopped when the
// test ends.
func newTestChatServer(t *testing.T, db database.TraderChatRepository) *ChatServer {
	t.Helper()

	cs, err := NewChatServer(testutil.TestLogger(t), db, stats.NewMockStatsUpdater(), Options{})
	require.NoError(t, err, "failed to create test ChatServer")

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})
	return cs
}

func newTestClient(t *testing.T, cs *ChatServer) *Client {
	t.Helper()

	c := NewClient(nil, cs, testutil.TestLogger(t))
	require.True(t, c.Register(), "failed to register client")
	return c
}

// registerAs binds c to username through register_user.
func registerAs(t *testing.T, db *database.MockTraderChatRepository, c *Client, user database.User) {
	t.Helper()

	db.On("GetOrCreateUser", mock.Anything, user.Username).Return(user, nil).Once()
	c.dispatch(&ClientMessage{RegisterUser: &RegisterUser{Username: user.Username}})
	expectFrame(t, c, EvUserRegistered)
}

// expectFrame reads frames from c until one carries event.
func expectFrame(t *testing.T, c *Client, event string) *ServerMessage {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return nil
		}
	}
}

// nextFrame returns the next frame sent to c.
func nextFrame(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client, event string) {
	t.Helper()

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-c.send:
			assert.NotEqual(t, event, msg.Event, "unexpected %s frame", event)
		case <-deadline:
			return
		}
	}
}

func assertError(t *testing.T, msg *ServerMessage, family string, kind ErrorKind) ErrorData {
	t.Helper()

	require.Equal(t, family, msg.Event)
	data, ok := msg.Data.(ErrorData)
	require.True(t, ok, "expected ErrorData, got %T", msg.Data)
	assert.Equal(t, kind, data.Kind)
	return data
}

func user(name, t string) database.User {
	return database.User{Username: name, SubscriptionTier: t}
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	su := stats.NewMockStatsUpdater()
	defer su.AssertExpectations(t)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, Options{})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.Equal(t, DefaultHistoryLimit, cs.historyLimit)
	assert.Equal(t, 10, cs.topN)
	assert.NotNil(t, cs.leaderboard, "expected default leaderboard service")
	assert.NotNil(t, cs.exporter, "expected default exporter")
	assert.NotNil(t, cs.notifier, "expected notifier")
	su.AssertNumberOfCalls(t, "RegisterMetric", len(stats.Counters))
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("stops connected clients", func(t *testing.T) {
		cs, err := NewChatServer(testutil.TestLogger(t), &database.MockTraderChatRepository{}, stats.NewMockStatsUpdater(), Options{})
		require.NoError(t, err)
		go cs.Run()

		c := NewClient(nil, cs, testutil.TestLogger(t))
		require.True(t, c.Register())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))

		select {
		case <-c.stop:
		default:
			t.Error("expected client stop channel to be closed")
		}

		assert.False(t, c.Register(), "expected registration to fail after shutdown")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs, err := NewChatServer(testutil.TestLogger(t), &database.MockTraderChatRepository{}, stats.NewMockStatsUpdater(), Options{})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		// Run is never started so nothing receives the stop request.
		err = cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRegisterUser(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	c := newTestClient(t, cs)

	db.On("GetOrCreateUser", mock.Anything, "alice").Return(user("alice", "free"), nil).Twice()

	c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, RegisterUser: &RegisterUser{Username: " alice "}})
	msg := nextFrame(t, c)
	assert.Equal(t, EvUserRegistered, msg.Event)
	assert.Equal(t, 1, msg.Id)
	assert.Equal(t, types.User{Username: "alice", Tier: "free"}, msg.Data)
	assert.Equal(t, "alice", c.Username())

	t.Run("same name again is accepted", func(t *testing.T) {
		c.dispatch(&ClientMessage{RegisterUser: &RegisterUser{Username: "alice"}})
		assert.Equal(t, EvUserRegistered, nextFrame(t, c).Event)
	})

	t.Run("different name is rejected", func(t *testing.T) {
		c.dispatch(&ClientMessage{RegisterUser: &RegisterUser{Username: "mallory"}})
		assertError(t, nextFrame(t, c), "registration_error", KindPermissionDenied)
		assert.Equal(t, "alice", c.Username())
	})
}

func TestDispatchErrors(t *testing.T) {
	t.Run("events before registration are rejected", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockTraderChatRepository{})
		c := newTestClient(t, cs)

		c.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})
		assertError(t, nextFrame(t, c), "room_error", KindPermissionDenied)
	})

	t.Run("acting as another user is rejected", func(t *testing.T) {
		db := &database.MockTraderChatRepository{}
		cs := newTestChatServer(t, db)
		c := newTestClient(t, cs)
		registerAs(t, db, c, user("alice", "free"))

		c.dispatch(&ClientMessage{SendMessage: &SendMessage{Username: "bob", Room: "general", Text: "hi"}})
		assertError(t, nextFrame(t, c), "message_error", KindPermissionDenied)
	})

	t.Run("invalid payload", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockTraderChatRepository{})
		c := newTestClient(t, cs)

		c.dispatch(&ClientMessage{EditMessage: &EditMessage{MessageId: 1}})
		assertError(t, nextFrame(t, c), "edit_error", KindValidation)
	})

	t.Run("several events in one message", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockTraderChatRepository{})
		c := newTestClient(t, cs)

		c.dispatch(&ClientMessage{LeaveRoom: &LeaveRoom{}, GetMyRooms: &Actor{}})
		assertError(t, nextFrame(t, c), "message_error", KindValidation)
	})

	t.Run("panicking handler is reported and the connection survives", func(t *testing.T) {
		db := &database.MockTraderChatRepository{}
		cs := newTestChatServer(t, db)
		c := newTestClient(t, cs)

		// a nil user makes the mock panic on its type assertion
		db.On("GetOrCreateUser", mock.Anything, "alice").Return(nil, nil).Once()
		c.dispatch(&ClientMessage{RegisterUser: &RegisterUser{Username: "alice"}})
		msg := nextFrame(t, c)
		assert.Equal(t, EvInternalError, msg.Event)
		assert.Equal(t, KindInternal, msg.Data.(ErrorData).Kind)

		registerAs(t, db, c, user("alice", "free"))
	})

	t.Run("persistence failure", func(t *testing.T) {
		db := &database.MockTraderChatRepository{}
		cs := newTestChatServer(t, db)
		c := newTestClient(t, cs)
		registerAs(t, db, c, user("alice", "free"))

		db.On("ListNotifications", mock.Anything, "alice", notificationsLimit).
			Return([]database.Notification(nil), sql.ErrConnDone).Once()
		c.dispatch(&ClientMessage{GetNotifications: &Actor{}})
		assertError(t, nextFrame(t, c), "notification_error", KindPersistence)
	})
}

func TestTierGatingAndUpgrade(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, cs)
	registerAs(t, db, alice, user("alice", "free"))

	db.On("GetOrCreateUser", mock.Anything, "alice").Return(user("alice", "free"), nil).Once()
	alice.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, JoinRoom: &JoinRoom{Room: "forex"}})

	msg := nextFrame(t, alice)
	assert.Equal(t, EvRoomLocked, msg.Event)
	assert.Equal(t, RoomLocked{
		Room:         "forex",
		RequiredTier: "pro",
		Message:      "Upgrade to Pro to access forex room",
	}, msg.Data)
	assert.Empty(t, alice.CurrentRoom())

	db.On("UpdateUserTier", mock.Anything, "alice", "pro").Return(user("alice", "pro"), nil).Once()
	alice.dispatch(&ClientMessage{UpgradeSubscription: &UpgradeSubscription{Tier: "Pro"}})
	msg = expectFrame(t, alice, EvUpgradeSuccess)
	assert.Equal(t, types.User{Username: "alice", Tier: "pro"}, msg.Data)

	db.On("GetOrCreateUser", mock.Anything, "alice").Return(user("alice", "pro"), nil).Once()
	db.On("ListMessages", mock.Anything, "forex", DefaultHistoryLimit).Return([]database.Message{}, nil).Once()
	alice.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "forex"}})

	msg = nextFrame(t, alice)
	assert.Equal(t, EvPreviousMessages, msg.Event)
	assert.Equal(t, []types.Message{}, msg.Data)

	msg = nextFrame(t, alice)
	assert.Equal(t, EvOnlineUsers, msg.Event)
	assert.Equal(t, OnlineUsers{Room: "forex", Users: []string{"alice"}}, msg.Data)
	assert.Equal(t, "forex", alice.CurrentRoom())

	t.Run("downgrade evicts from locked rooms", func(t *testing.T) {
		db.On("UpdateUserTier", mock.Anything, "alice", "free").Return(user("alice", "free"), nil).Once()
		alice.dispatch(&ClientMessage{UpgradeSubscription: &UpgradeSubscription{Tier: "free"}})

		msg := expectFrame(t, alice, EvRoomLocked)
		assert.Equal(t, "forex", msg.Data.(RoomLocked).Room)
		assert.Eventually(t, func() bool { return alice.CurrentRoom() == "" }, time.Second, 10*time.Millisecond)
	})
}

func TestPrivateRoomAccess(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	carol := newTestClient(t, cs)
	registerAs(t, db, carol, user("carol", "premium"))

	room := database.PrivateRoom{RoomId: "private-abc", Name: "Gold desk", OwnerUsername: "bob"}

	db.On("GetOrCreateUser", mock.Anything, "carol").Return(user("carol", "premium"), nil)
	db.On("GetPrivateRoom", mock.Anything, "private-abc").Return(room, nil)

	t.Run("non member is locked out", func(t *testing.T) {
		db.On("GetMembership", mock.Anything, "private-abc", "carol").
			Return(database.RoomMembership{}, sql.ErrNoRows).Once()

		carol.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "private-abc"}})
		msg := nextFrame(t, carol)
		assert.Equal(t, EvRoomLocked, msg.Event)
		assert.Equal(t, "premium", msg.Data.(RoomLocked).RequiredTier)
	})

	t.Run("unknown room", func(t *testing.T) {
		db.On("GetPrivateRoom", mock.Anything, "private-nope").Return(database.PrivateRoom{}, sql.ErrNoRows).Once()

		carol.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "private-nope"}})
		assertError(t, nextFrame(t, carol), "room_error", KindNotFound)
	})

	t.Run("member joins, removal evicts", func(t *testing.T) {
		db.On("GetMembership", mock.Anything, "private-abc", "carol").
			Return(database.RoomMembership{RoomId: "private-abc", Username: "carol", Role: database.RoleMember}, nil).Once()
		db.On("ListMessages", mock.Anything, "private-abc", DefaultHistoryLimit).Return([]database.Message{}, nil).Once()

		carol.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "private-abc"}})
		expectFrame(t, carol, EvOnlineUsers)
		require.Equal(t, "private-abc", carol.CurrentRoom())

		cs.Evict("private-abc", "carol", Reply(0, EvMemberRemoved, MemberRemoved{Room: "private-abc", Username: "carol"}))
		msg := expectFrame(t, carol, EvMemberRemoved)
		assert.Equal(t, MemberRemoved{Room: "private-abc", Username: "carol"}, msg.Data)
		assert.Empty(t, carol.CurrentRoom())

		db.On("GetMembership", mock.Anything, "private-abc", "carol").
			Return(database.RoomMembership{}, sql.ErrNoRows).Once()
		carol.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "private-abc"}})
		assert.Equal(t, EvRoomLocked, nextFrame(t, carol).Event)
	})

	t.Run("removed member cannot post", func(t *testing.T) {
		db.On("GetMembership", mock.Anything, "private-abc", "carol").
			Return(database.RoomMembership{}, sql.ErrNoRows).Once()

		carol.dispatch(&ClientMessage{SendMessage: &SendMessage{Room: "private-abc", Text: "still here?"}})
		data := assertError(t, nextFrame(t, carol), "message_error", KindPermissionDenied)
		assert.Equal(t, "premium", data.RequiredTier)
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})
}

func goldSignal() *database.Signal {
	return &database.Signal{
		Pair:       "XAUUSD",
		Direction:  "BUY",
		EntryPrice: decimal.NewFromInt(2000),
		StopLoss:   decimal.NewFromInt(1990),
		TakeProfit: decimal.NewFromInt(2020),
		RiskReward: decimal.NewFromInt(2),
	}
}

func pendingGold() database.SignalMetadata {
	return database.SignalMetadata{
		MessageId:      7,
		AuthorUsername: "bob",
		Room:           "general",
		Outcome:        "pending",
		PipsGained:     decimal.Zero,
		Signal:         *goldSignal(),
	}
}

func TestSignalLifecycle(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	bob := newTestClient(t, cs)
	registerAs(t, db, bob, user("bob", "premium"))

	history := []database.Message{
		{Id: 6, Username: "alice", Room: "general", Type: "text", Text: "morning"},
		{Id: 7, Username: "bob", Room: "general", Type: "signal", IsOfficial: true, Signal: goldSignal()},
	}

	db.On("GetOrCreateUser", mock.Anything, "bob").Return(user("bob", "premium"), nil)
	db.On("ListMessages", mock.Anything, "general", DefaultHistoryLimit).Return(history, nil).Once()
	db.On("ListSignalMetadataByMessageIds", mock.Anything, []int64{7}).
		Return([]database.SignalMetadata{pendingGold()}, nil).Once()

	bob.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})

	msg := nextFrame(t, bob)
	require.Equal(t, EvPreviousMessages, msg.Event)
	assert.Len(t, msg.Data.([]types.Message), 2)

	msg = nextFrame(t, bob)
	require.Equal(t, EvSignalMetadata, msg.Event)
	batch := msg.Data.(SignalMetadataBatch)
	assert.Equal(t, "general", batch.Room)
	require.Len(t, batch.Metadata, 1)
	assert.Equal(t, "pending", batch.Metadata[0].Outcome)

	assert.Equal(t, EvOnlineUsers, nextFrame(t, bob).Event)

	t.Run("non author cannot close", func(t *testing.T) {
		mallory := newTestClient(t, cs)
		registerAs(t, db, mallory, user("mallory", "pro"))

		db.On("GetSignalMetadata", mock.Anything, int64(7)).Return(pendingGold(), nil).Once()
		mallory.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "win",
			ClosePrice: decimal.NewFromInt(2005),
		}})
		assertError(t, nextFrame(t, mallory), "signal_error", KindPermissionDenied)
	})

	t.Run("closing on behalf of someone else", func(t *testing.T) {
		bob.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "win",
			ClosePrice: decimal.NewFromInt(2005),
			ClosedBy:   "alice",
		}})
		assertError(t, nextFrame(t, bob), "signal_error", KindPermissionDenied)
	})

	t.Run("concurrent close loses", func(t *testing.T) {
		db.On("GetSignalMetadata", mock.Anything, int64(7)).Return(pendingGold(), nil).Once()
		db.On("CloseSignal", mock.Anything, mock.Anything).Return(database.SignalMetadata{}, database.ErrConflict).Once()

		bob.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "loss",
			ClosePrice: decimal.NewFromInt(1990),
		}})
		assertError(t, nextFrame(t, bob), "signal_error", KindConflict)
	})

	t.Run("author closes as win", func(t *testing.T) {
		closed := pendingGold()
		closed.Outcome = "win"
		closed.ClosePrice = decimal.NewNullDecimal(decimal.NewFromInt(2005))
		closed.PipsGained = decimal.NewFromInt(50)
		closed.ClosedBy = sql.NullString{String: "bob", Valid: true}
		closed.Version = 1

		db.On("GetSignalMetadata", mock.Anything, int64(7)).Return(pendingGold(), nil).Once()
		db.On("CloseSignal", mock.Anything, mock.MatchedBy(func(p database.CloseSignalParams) bool {
			return p.MessageId == 7 &&
				p.Outcome == "win" &&
				p.PipsGained.Equal(decimal.NewFromInt(50)) &&
				p.ClosedBy == "bob" &&
				p.ExpectedVersion == 0
		})).Return(closed, nil).Once()
		db.On("ListFollowers", mock.Anything, "bob").Return([]string{}, nil).Once()

		bob.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "WIN",
			ClosePrice: decimal.NewFromInt(2005),
		}})

		msg := expectFrame(t, bob, EvSignalUpdated)
		update := msg.Data.(types.SignalMetadata)
		assert.Equal(t, "win", update.Outcome)
		assert.True(t, update.PipsGained.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, "bob", update.ClosedBy)
	})

	t.Run("closed signal cannot be closed again", func(t *testing.T) {
		closed := pendingGold()
		closed.Outcome = "win"
		db.On("GetSignalMetadata", mock.Anything, int64(7)).Return(closed, nil).Twice()

		bob.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "loss",
			ClosePrice: decimal.NewFromInt(1990),
		}})
		assertError(t, nextFrame(t, bob), "signal_error", KindConflict)

		bob.dispatch(&ClientMessage{UpdateSignalOutcome: &UpdateSignalOutcome{
			MessageId:  7,
			Outcome:    "pending",
			ClosePrice: decimal.NewFromInt(1990),
		}})
		assertError(t, nextFrame(t, bob), "signal_error", KindValidation)
	})
}

func TestSendMessage(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, cs)
	registerAs(t, db, alice, user("alice", "pro"))
	bob := newTestClient(t, cs)
	registerAs(t, db, bob, user("bob", "free"))

	db.On("GetOrCreateUser", mock.Anything, "alice").Return(user("alice", "pro"), nil)
	db.On("GetOrCreateUser", mock.Anything, "bob").Return(user("bob", "free"), nil)
	db.On("ListMessages", mock.Anything, "general", DefaultHistoryLimit).Return([]database.Message{}, nil)

	alice.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})
	expectFrame(t, alice, EvOnlineUsers)

	t.Run("free user cannot post official signals", func(t *testing.T) {
		bob.dispatch(&ClientMessage{SendMessage: &SendMessage{
			Type:       "signal",
			Room:       "general",
			IsOfficial: true,
			Signal: &SignalInput{
				Pair:       "EURUSD",
				Direction:  "BUY",
				EntryPrice: decimal.RequireFromString("1.1"),
				StopLoss:   decimal.RequireFromString("1.09"),
				TakeProfit: decimal.RequireFromString("1.12"),
			},
		}})
		data := assertError(t, nextFrame(t, bob), "message_error", KindPermissionDenied)
		assert.Equal(t, "pro", data.RequiredTier)
	})

	t.Run("free user cannot post in forex", func(t *testing.T) {
		bob.dispatch(&ClientMessage{SendMessage: &SendMessage{Room: "forex", Text: "hi"}})
		data := assertError(t, nextFrame(t, bob), "message_error", KindPermissionDenied)
		assert.Equal(t, "pro", data.RequiredTier)
	})

	t.Run("official signal reaches the room and followers", func(t *testing.T) {
		saved := database.Message{
			Id:         11,
			Username:   "alice",
			Room:       "general",
			Type:       "signal",
			IsOfficial: true,
			Signal: &database.Signal{
				Pair:       "EURUSD",
				Direction:  "BUY",
				EntryPrice: decimal.RequireFromString("1.1"),
				StopLoss:   decimal.RequireFromString("1.09"),
				TakeProfit: decimal.RequireFromString("1.12"),
				RiskReward: decimal.NewFromInt(2),
			},
		}
		meta := &database.SignalMetadata{MessageId: 11, AuthorUsername: "alice", Room: "general", Outcome: "pending", Signal: *saved.Signal}

		db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
			return p.Username == "alice" &&
				p.Type == "signal" &&
				p.IsOfficial &&
				p.Signal.Pair == "EURUSD" &&
				p.Signal.RiskReward.Equal(decimal.NewFromInt(2))
		})).Return(saved, meta, nil).Once()
		db.On("ListFollowers", mock.Anything, "alice").Return([]string{"bob"}, nil).Once()
		db.On("GetNotificationPreferences", mock.Anything, "bob").
			Return(database.NotificationPreferences{}, sql.ErrNoRows).Once()
		db.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n database.Notification) bool {
			return n.Username == "bob" && n.Type == "new_signal"
		})).Return(database.Notification{Id: 1, Username: "bob", Type: "new_signal"}, nil).Once()

		alice.dispatch(&ClientMessage{SendMessage: &SendMessage{
			Type:       "signal",
			Room:       "general",
			IsOfficial: true,
			Signal: &SignalInput{
				Pair:       "eurusd",
				Direction:  "buy",
				EntryPrice: decimal.RequireFromString("1.1"),
				StopLoss:   decimal.RequireFromString("1.09"),
				TakeProfit: decimal.RequireFromString("1.12"),
			},
		}})

		msg := expectFrame(t, alice, EvNewMessage)
		assert.Equal(t, int64(11), msg.Data.(types.Message).Id)
		msg = expectFrame(t, alice, EvSignalMetadata)
		assert.Len(t, msg.Data.(SignalMetadataBatch).Metadata, 1)

		msg = expectFrame(t, bob, EvNewNotification)
		assert.Equal(t, "new_signal", msg.Data.(types.Notification).Type)
	})

	t.Run("typing is not echoed to the sender", func(t *testing.T) {
		bob.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})
		expectFrame(t, bob, EvOnlineUsers)

		alice.dispatch(&ClientMessage{Typing: &Typing{Room: "general"}})
		msg := expectFrame(t, bob, EvUserTyping)
		assert.Equal(t, UserTyping{Room: "general", Username: "alice"}, msg.Data)
		assertNoFrame(t, alice, EvUserTyping)
	})
}

func TestFollow(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, cs)
	registerAs(t, db, alice, user("alice", "free"))

	t.Run("self follow", func(t *testing.T) {
		alice.dispatch(&ClientMessage{FollowUser: &FollowUser{Following: "alice"}})
		assertError(t, nextFrame(t, alice), "follow_error", KindValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		db.On("GetUser", mock.Anything, "ghost").Return(database.User{}, sql.ErrNoRows).Once()
		alice.dispatch(&ClientMessage{FollowUser: &FollowUser{Following: "ghost"}})
		assertError(t, nextFrame(t, alice), "follow_error", KindNotFound)
	})

	t.Run("follow is idempotent", func(t *testing.T) {
		db.On("GetUser", mock.Anything, "bob").Return(user("bob", "pro"), nil).Twice()
		db.On("Follow", mock.Anything, "alice", "bob").Return(true, nil).Once()
		db.On("Follow", mock.Anything, "alice", "bob").Return(false, nil).Once()
		db.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n database.Notification) bool {
			return n.Username == "bob" && n.Type == "new_follower"
		})).Return(database.Notification{Id: 2, Username: "bob", Type: "new_follower"}, nil).Once()

		alice.dispatch(&ClientMessage{FollowUser: &FollowUser{Following: "bob"}})
		msg := nextFrame(t, alice)
		assert.Equal(t, EvFollowSuccess, msg.Event)
		assert.Equal(t, FollowResult{Follower: "alice", Following: "bob", Changed: true}, msg.Data)

		alice.dispatch(&ClientMessage{FollowUser: &FollowUser{Following: "bob"}})
		msg = nextFrame(t, alice)
		assert.Equal(t, FollowResult{Follower: "alice", Following: "bob", Changed: false}, msg.Data)
	})

	t.Run("unfollow", func(t *testing.T) {
		db.On("GetUser", mock.Anything, "bob").Return(user("bob", "pro"), nil).Once()
		db.On("Unfollow", mock.Anything, "alice", "bob").Return(true, nil).Once()

		alice.dispatch(&ClientMessage{UnfollowUser: &FollowUser{Following: "bob"}})
		msg := nextFrame(t, alice)
		assert.Equal(t, EvUnfollowSuccess, msg.Event)
		assert.Equal(t, FollowResult{Follower: "alice", Following: "bob", Changed: true}, msg.Data)
	})
}

func TestGetLeaderboard(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	c := newTestClient(t, cs)

	var rows []database.SignalMetadata
	for i := 0; i < 6; i++ {
		outcome := "win"
		if i%2 == 0 {
			outcome = "loss"
		}
		rows = append(rows, database.SignalMetadata{AuthorUsername: "bob", Outcome: outcome, PipsGained: decimal.NewFromInt(10)})
	}
	rows = append(rows, database.SignalMetadata{AuthorUsername: "newbie", Outcome: "win", PipsGained: decimal.NewFromInt(99)})

	db.On("ListSignalMetadata", mock.Anything, database.SignalFilter{}).Return(rows, nil).Once()

	c.dispatch(&ClientMessage{GetLeaderboard: &GetLeaderboard{}})
	msg := nextFrame(t, c)
	require.Equal(t, EvLeaderboardData, msg.Event)

	data := msg.Data.(LeaderboardData)
	assert.Equal(t, 5, data.MinCompletedSignals)
	require.Len(t, data.Leaderboard, 1, "authors below the threshold are excluded")
	assert.Equal(t, "bob", data.Leaderboard[0].Username)
	assert.Equal(t, "50", data.Leaderboard[0].WinRate.String())

	c.dispatch(&ClientMessage{GetLeaderboard: &GetLeaderboard{SortBy: "luck"}})
	assertError(t, nextFrame(t, c), "leaderboard_error", KindValidation)
}

func TestRoomUsernames(t *testing.T) {
	r := newRoom("general")
	assert.True(t, r.empty())

	for _, name := range []string{"carol", "alice", "carol", ""} {
		c := &Client{username: name}
		r.addClient(c)
	}

	assert.Equal(t, []string{"alice", "carol"}, r.usernames())
	assert.False(t, r.empty())
}

func TestMessageChanges(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, cs)
	registerAs(t, db, alice, user("alice", "free"))
	bob := newTestClient(t, cs)
	registerAs(t, db, bob, user("bob", "free"))

	db.On("GetOrCreateUser", mock.Anything, "alice").Return(user("alice", "free"), nil)
	db.On("GetOrCreateUser", mock.Anything, "bob").Return(user("bob", "free"), nil)
	db.On("ListMessages", mock.Anything, "general", DefaultHistoryLimit).Return([]database.Message{}, nil)

	alice.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})
	expectFrame(t, alice, EvOnlineUsers)
	bob.dispatch(&ClientMessage{JoinRoom: &JoinRoom{Room: "general"}})
	expectFrame(t, bob, EvOnlineUsers)

	text := database.Message{Id: 1, Username: "alice", Room: "general", Type: database.MessageTypeText, Text: "helo"}
	db.On("GetMessage", mock.Anything, int64(1)).Return(text, nil)

	t.Run("only the author edits", func(t *testing.T) {
		bob.dispatch(&ClientMessage{EditMessage: &EditMessage{MessageId: 1, Text: "hijack"}})
		assertError(t, expectFrame(t, bob, "edit_error"), "edit_error", KindPermissionDenied)
	})

	t.Run("signals cannot be edited", func(t *testing.T) {
		db.On("GetMessage", mock.Anything, int64(2)).Return(database.Message{
			Id: 2, Username: "alice", Room: "general", Type: database.MessageTypeSignal, Signal: goldSignal(),
		}, nil).Once()

		alice.dispatch(&ClientMessage{EditMessage: &EditMessage{MessageId: 2, Text: "moved my stop"}})
		assertError(t, expectFrame(t, alice, "edit_error"), "edit_error", KindValidation)
	})

	t.Run("edit reaches the room", func(t *testing.T) {
		edited := text
		edited.Text = "hello"
		edited.Edited = true
		db.On("UpdateMessageText", mock.Anything, int64(1), "hello").Return(edited, nil).Once()

		alice.dispatch(&ClientMessage{EditMessage: &EditMessage{MessageId: 1, Text: " hello "}})
		msg := expectFrame(t, bob, EvMessageUpdated)
		updated := msg.Data.(types.Message)
		assert.Equal(t, "hello", updated.Text)
		assert.True(t, updated.Edited)
	})

	t.Run("reaction toggles the actor", func(t *testing.T) {
		db.On("UpdateMessageReactions", mock.Anything, int64(1), map[string][]string{"👍": {"bob"}}).Return(nil).Once()

		bob.dispatch(&ClientMessage{AddReaction: &AddReaction{MessageId: 1, Emoji: "👍"}})
		msg := expectFrame(t, alice, EvMessageReacted)
		assert.Equal(t, MessageReacted{MessageId: 1, Reactions: map[string][]string{"👍": {"bob"}}}, msg.Data)
	})

	t.Run("only the author deletes", func(t *testing.T) {
		bob.dispatch(&ClientMessage{DeleteMessage: &DeleteMessage{MessageId: 1}})
		assertError(t, expectFrame(t, bob, "delete_error"), "delete_error", KindPermissionDenied)
	})

	t.Run("delete reaches the room", func(t *testing.T) {
		db.On("DeleteMessage", mock.Anything, int64(1)).Return(nil).Once()

		alice.dispatch(&ClientMessage{DeleteMessage: &DeleteMessage{MessageId: 1}})
		msg := expectFrame(t, bob, EvMessageDeleted)
		assert.Equal(t, MessageDeleted{MessageId: 1, Room: "general"}, msg.Data)
	})

	t.Run("leave room", func(t *testing.T) {
		bob.dispatch(&ClientMessage{LeaveRoom: &LeaveRoom{}})
		msg := expectFrame(t, bob, EvRoomLeft)
		assert.Equal(t, map[string]string{"room": "general"}, msg.Data)
		assert.Empty(t, bob.CurrentRoom())

		bob.dispatch(&ClientMessage{LeaveRoom: &LeaveRoom{}})
		assertError(t, nextFrame(t, bob), "room_error", KindValidation)
	})
}

func TestPrivateRoomManagement(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	carol := newTestClient(t, cs)
	registerAs(t, db, carol, user("carol", "premium"))
	dave := newTestClient(t, cs)
	registerAs(t, db, dave, user("dave", "free"))

	room := database.PrivateRoom{RoomId: "private-xyz", Name: "Gold desk", OwnerUsername: "carol"}
	inv := database.RoomInvitation{
		Token:     "3f1c9a52-7c7e-4f7e-9c59-0d1f2a3b4c5d",
		RoomId:    room.RoomId,
		InvitedBy: "carol",
		Invitee:   "dave",
		Status:    database.InvitationPending,
	}

	db.On("GetPrivateRoom", mock.Anything, room.RoomId).Return(room, nil)
	db.On("GetMembership", mock.Anything, room.RoomId, "carol").
		Return(database.RoomMembership{RoomId: room.RoomId, Username: "carol", Role: database.RoleOwner}, nil)

	t.Run("free users cannot create rooms", func(t *testing.T) {
		db.On("GetOrCreateUser", mock.Anything, "dave").Return(user("dave", "free"), nil).Once()

		dave.dispatch(&ClientMessage{CreatePrivateRoom: &CreatePrivateRoom{Name: "Mine"}})
		data := assertError(t, nextFrame(t, dave), "room_error", KindPermissionDenied)
		assert.Equal(t, "premium", data.RequiredTier)
	})

	t.Run("premium user creates a room", func(t *testing.T) {
		db.On("GetOrCreateUser", mock.Anything, "carol").Return(user("carol", "premium"), nil).Once()
		db.On("CreatePrivateRoom", mock.Anything, mock.MatchedBy(func(p database.CreatePrivateRoomParams) bool {
			return strings.HasPrefix(p.RoomId, "private-") && p.Name == "Gold desk" && p.OwnerUsername == "carol"
		})).Return(room, nil).Once()

		carol.dispatch(&ClientMessage{CreatePrivateRoom: &CreatePrivateRoom{Name: " Gold desk "}})
		msg := nextFrame(t, carol)
		assert.Equal(t, EvRoomCreated, msg.Event)
		assert.Equal(t, types.Room{
			Id:            "private-xyz",
			Name:          "Gold desk",
			Private:       true,
			OwnerUsername: "carol",
			Role:          database.RoleOwner,
		}, msg.Data)
	})

	t.Run("members cannot invite", func(t *testing.T) {
		db.On("GetMembership", mock.Anything, room.RoomId, "dave").Return(database.RoomMembership{}, sql.ErrNoRows).Once()

		dave.dispatch(&ClientMessage{InviteToRoom: &InviteToRoom{Room: room.RoomId, Invitee: "erin"}})
		assertError(t, nextFrame(t, dave), "room_error", KindPermissionDenied)
	})

	t.Run("existing members are not invited twice", func(t *testing.T) {
		db.On("GetUser", mock.Anything, "erin").Return(user("erin", "free"), nil).Once()
		db.On("GetMembership", mock.Anything, room.RoomId, "erin").
			Return(database.RoomMembership{RoomId: room.RoomId, Username: "erin", Role: database.RoleMember}, nil).Once()

		carol.dispatch(&ClientMessage{InviteToRoom: &InviteToRoom{Room: room.RoomId, Invitee: "erin"}})
		assertError(t, nextFrame(t, carol), "room_error", KindConflict)
	})

	t.Run("owner invites", func(t *testing.T) {
		db.On("GetUser", mock.Anything, "dave").Return(user("dave", "free"), nil).Once()
		db.On("GetMembership", mock.Anything, room.RoomId, "dave").Return(database.RoomMembership{}, sql.ErrNoRows).Once()
		db.On("CreateInvitation", mock.Anything, mock.MatchedBy(func(p database.CreateInvitationParams) bool {
			return len(p.Token) == 36 && p.InvitedBy == "carol" && p.Invitee == "dave" && p.RoomId == room.RoomId
		})).Return(inv, nil).Once()
		db.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n database.Notification) bool {
			return n.Username == "dave" && n.Type == "room_invitation"
		})).Return(database.Notification{Id: 9, Username: "dave", Type: "room_invitation"}, nil).Once()

		carol.dispatch(&ClientMessage{InviteToRoom: &InviteToRoom{Room: room.RoomId, Invitee: "dave"}})
		msg := expectFrame(t, carol, EvInvitationSent)
		assert.Equal(t, types.InvitationFromModel(inv), msg.Data)

		msg = expectFrame(t, dave, EvNewNotification)
		assert.Equal(t, "room_invitation", msg.Data.(types.Notification).Type)
	})

	t.Run("only the invitee accepts", func(t *testing.T) {
		db.On("GetInvitation", mock.Anything, inv.Token).Return(inv, nil).Once()

		carol.dispatch(&ClientMessage{AcceptInvitation: &AcceptInvitation{Token: inv.Token}})
		assertError(t, nextFrame(t, carol), "room_error", KindPermissionDenied)
	})

	t.Run("invitee accepts", func(t *testing.T) {
		member := room
		member.Role = database.RoleMember
		db.On("GetInvitation", mock.Anything, inv.Token).Return(inv, nil).Once()
		db.On("AcceptInvitation", mock.Anything, inv.Token).
			Return(database.RoomMembership{RoomId: room.RoomId, Username: "dave", Role: database.RoleMember}, nil).Once()
		db.On("GetUser", mock.Anything, "dave").Return(user("dave", "free"), nil).Once()
		db.On("ListRoomsForUser", mock.Anything, "dave").Return([]database.PrivateRoom{member}, nil).Once()

		dave.dispatch(&ClientMessage{AcceptInvitation: &AcceptInvitation{Token: inv.Token}})
		msg := nextFrame(t, dave)
		assert.Equal(t, EvInvitationAccepted, msg.Event)
		assert.Equal(t, database.InvitationAccepted, msg.Data.(types.Invitation).Status)

		msg = nextFrame(t, dave)
		require.Equal(t, EvMyRooms, msg.Event)
		rooms := msg.Data.(MyRooms)
		require.Len(t, rooms.Private, 1)
		assert.Equal(t, database.RoleMember, rooms.Private[0].Role)
		require.Len(t, rooms.Public, 4)
		assert.False(t, rooms.Public[0].Locked, "general is open to free users")
		assert.True(t, rooms.Public[1].Locked, "forex needs pro")
	})

	t.Run("accepted invitations cannot be reused", func(t *testing.T) {
		used := inv
		used.Status = database.InvitationAccepted
		db.On("GetInvitation", mock.Anything, inv.Token).Return(used, nil).Once()

		dave.dispatch(&ClientMessage{AcceptInvitation: &AcceptInvitation{Token: inv.Token}})
		assertError(t, nextFrame(t, dave), "room_error", KindConflict)
	})

	t.Run("owner cannot be removed", func(t *testing.T) {
		carol.dispatch(&ClientMessage{RemoveMember: &RemoveMember{Room: room.RoomId, Member: "carol"}})
		assertError(t, nextFrame(t, carol), "room_error", KindPermissionDenied)
	})

	t.Run("owner removes a member", func(t *testing.T) {
		db.On("GetMembership", mock.Anything, room.RoomId, "dave").
			Return(database.RoomMembership{RoomId: room.RoomId, Username: "dave", Role: database.RoleMember}, nil).Once()
		db.On("DeleteMembership", mock.Anything, room.RoomId, "dave").Return(nil).Once()

		carol.dispatch(&ClientMessage{RemoveMember: &RemoveMember{Room: room.RoomId, Member: "dave"}})
		removed := MemberRemoved{Room: room.RoomId, Username: "dave"}
		assert.Equal(t, removed, expectFrame(t, carol, EvMemberRemoved).Data)
		assert.Equal(t, removed, expectFrame(t, dave, EvMemberRemoved).Data)
	})
}

func TestNotificationsAndPreferences(t *testing.T) {
	db := &database.MockTraderChatRepository{}
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db)
	alice := newTestClient(t, cs)
	registerAs(t, db, alice, user("alice", "free"))

	t.Run("list", func(t *testing.T) {
		db.On("ListNotifications", mock.Anything, "alice", 50).Return([]database.Notification{
			{Id: 5, Username: "alice", Type: "new_follower", Title: "New follower"},
		}, nil).Once()

		alice.dispatch(&ClientMessage{GetNotifications: &Actor{}})
		msg := nextFrame(t, alice)
		require.Equal(t, EvNotificationsLoaded, msg.Event)
		list := msg.Data.([]types.Notification)
		require.Len(t, list, 1)
		assert.Equal(t, int64(5), list[0].Id)
	})

	t.Run("mark one read", func(t *testing.T) {
		db.On("MarkNotificationRead", mock.Anything, int64(5), "alice").Return(nil).Once()
		db.On("MarkNotificationRead", mock.Anything, int64(6), "alice").Return(sql.ErrNoRows).Once()

		alice.dispatch(&ClientMessage{MarkNotificationRead: &MarkNotificationRead{NotificationId: 5}})
		msg := nextFrame(t, alice)
		assert.Equal(t, EvNotificationRead, msg.Event)
		assert.Equal(t, map[string]int64{"notificationId": 5}, msg.Data)

		alice.dispatch(&ClientMessage{MarkNotificationRead: &MarkNotificationRead{NotificationId: 6}})
		assertError(t, nextFrame(t, alice), "notification_error", KindNotFound)
	})

	t.Run("mark all read", func(t *testing.T) {
		db.On("MarkAllNotificationsRead", mock.Anything, "alice").Return(nil).Once()

		alice.dispatch(&ClientMessage{MarkAllRead: &Actor{}})
		assert.Equal(t, EvAllNotificationsRead, nextFrame(t, alice).Event)
	})

	t.Run("preferences default to enabled", func(t *testing.T) {
		db.On("GetNotificationPreferences", mock.Anything, "alice").
			Return(database.NotificationPreferences{}, sql.ErrNoRows).Once()

		alice.dispatch(&ClientMessage{GetPreferences: &Actor{}})
		msg := nextFrame(t, alice)
		require.Equal(t, EvPreferencesLoaded, msg.Event)
		assert.Equal(t, types.PreferencesFromModel(database.DefaultNotificationPreferences("alice")), msg.Data)
	})

	t.Run("update preferences", func(t *testing.T) {
		prefs := types.PreferencesFromModel(database.DefaultNotificationPreferences("alice"))
		prefs.NotifyMentions = false
		db.On("UpsertNotificationPreferences", mock.Anything, mock.MatchedBy(func(p database.NotificationPreferences) bool {
			return p.Username == "alice" && !p.NotifyMentions && p.NotifyNewSignals
		})).Return(nil).Once()

		alice.dispatch(&ClientMessage{UpdatePreferences: &UpdatePreferences{Preferences: prefs}})
		msg := nextFrame(t, alice)
		assert.Equal(t, EvPreferencesUpdated, msg.Event)
		assert.Equal(t, prefs, msg.Data)
	})

	t.Run("acting as someone else", func(t *testing.T) {
		alice.dispatch(&ClientMessage{GetNotifications: &Actor{Username: "bob"}})
		assertError(t, nextFrame(t, alice), "notification_error", KindPermissionDenied)
	})

	t.Run("preference failures use their own family", func(t *testing.T) {
		db.On("GetNotificationPreferences", mock.Anything, "alice").
			Return(database.NotificationPreferences{}, sql.ErrConnDone).Once()

		alice.dispatch(&ClientMessage{GetPreferences: &Actor{}})
		assertError(t, nextFrame(t, alice), "preferences_error", KindPersistence)

		alice.dispatch(&ClientMessage{UpdatePreferences: &UpdatePreferences{Username: "bob"}})
		assertError(t, nextFrame(t, alice), "preferences_error", KindPermissionDenied)
	})
}
