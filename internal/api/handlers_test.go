package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/trader-chat/internal/config"
	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/server"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/testutil"
	"github.com/npezzotti/trader-chat/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

// newTestApp wires a GoChatApp to a running chat server backed by db.
func newTestApp(t *testing.T, db *database.MockTraderChatRepository) *GoChatApp {
	t.Helper()

	logger := testutil.TestLogger(t)

	cs, err := server.NewChatServer(logger, db, stats.NewMockStatsUpdater(), server.Options{})
	require.NoError(t, err, "failed to create chat server")
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	cfg, err := config.NewConfig("localhost:0", config.DefaultDatabaseDSN, config.DefaultSigningKey, []string{testOrigin})
	require.NoError(t, err, "failed to create config")

	hash, err := hashPassword("letmein")
	require.NoError(t, err, "failed to hash admin password")
	cfg.AdminPasswordHash = hash

	return NewGoChatApp(http.NewServeMux(), logger, cs, db, cfg)
}

// do runs req through the full handler chain.
func do(app *GoChatApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.mux.Handler.ServeHTTP(rr, req)
	return rr
}

func adminCookie(t *testing.T, app *GoChatApp) *http.Cookie {
	t.Helper()

	token, err := app.createAdminJwt(time.Minute)
	require.NoError(t, err, "failed to create admin token")
	return createJwtCookie(token, time.Minute)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()

	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "failed to decode error body")
	return apiErr
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTraderChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr)

			app := newTestApp(t, mockRepo)

			rr := do(app, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestGetRooms(t *testing.T) {
	app := newTestApp(t, &database.MockTraderChatRepository{})

	rr := do(app, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var rooms []types.Room
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms))
	require.Len(t, rooms, 4)
	assert.Equal(t, "general", rooms[0].Id)
	assert.Equal(t, "free", rooms[0].RequiredTier)
	assert.Equal(t, "stocks", rooms[3].Id)
	assert.Equal(t, "premium", rooms[3].RequiredTier)
}

func TestGetLeaderboard(t *testing.T) {
	closed := func(author, outcome string, pips int64) database.SignalMetadata {
		return database.SignalMetadata{
			AuthorUsername: author,
			Outcome:        outcome,
			PipsGained:     decimal.NewFromInt(pips),
			Signal:         database.Signal{Pair: "EURUSD", Direction: "BUY"},
			CreatedAt:      time.Now(),
		}
	}

	var rows []database.SignalMetadata
	for range 5 {
		rows = append(rows, closed("bob", "win", 20))
	}
	rows = append(rows, closed("newbie", "win", 100))

	tcases := []struct {
		name       string
		query      string
		statusCode int
		traders    []string
	}{
		{
			name:       "defaults",
			query:      "",
			statusCode: http.StatusOK,
			traders:    []string{"bob"},
		},
		{
			name:       "explicit period and sort",
			query:      "?period=week&sortBy=totalPips&limit=1",
			statusCode: http.StatusOK,
			traders:    []string{"bob"},
		},
		{
			name:       "invalid period",
			query:      "?period=decade",
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "invalid sort",
			query:      "?sortBy=luck",
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "invalid limit",
			query:      "?limit=zero",
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTraderChatRepository{}
			mockRepo.On("ListSignalMetadata", mock.Anything, mock.Anything).Return(rows, nil).Maybe()

			app := newTestApp(t, mockRepo)

			rr := do(app, httptest.NewRequest(http.MethodGet, "/api/leaderboard"+tc.query, nil))
			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusOK {
				assert.Contains(t, decodeError(t, rr).Message, "bad request")
				return
			}

			var data server.LeaderboardData
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&data))
			assert.Equal(t, 5, data.MinCompletedSignals)

			var traders []string
			for _, s := range data.Leaderboard {
				traders = append(traders, s.Username)
			}
			assert.Equal(t, tc.traders, traders)
		})
	}
}

func TestGetSignals(t *testing.T) {
	tcases := []struct {
		name       string
		query      string
		filter     func(database.SignalFilter) bool
		statusCode int
	}{
		{
			name:  "author and outcome",
			query: "?author=bob&outcome=WIN",
			filter: func(f database.SignalFilter) bool {
				return f.Author == "bob" && f.Outcome == "win" && f.Since.IsZero()
			},
			statusCode: http.StatusOK,
		},
		{
			name:  "period",
			query: "?period=month",
			filter: func(f database.SignalFilter) bool {
				return f.Author == "" && f.Outcome == "" && !f.Since.IsZero()
			},
			statusCode: http.StatusOK,
		},
		{
			name:       "invalid outcome",
			query:      "?outcome=breakeven",
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTraderChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.filter != nil {
				mockRepo.On("ListSignalMetadata", mock.Anything, mock.MatchedBy(tc.filter)).Return([]database.SignalMetadata{
					{MessageId: 7, AuthorUsername: "bob", Outcome: "win", Room: "forex"},
				}, nil).Once()
			}

			app := newTestApp(t, mockRepo)

			rr := do(app, httptest.NewRequest(http.MethodGet, "/api/signals"+tc.query, nil))
			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusOK {
				return
			}

			var metas []types.SignalMetadata
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&metas))
			require.Len(t, metas, 1)
			assert.Equal(t, int64(7), metas[0].MessageId)
		})
	}
}

func TestGetProfile(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tcases := []struct {
		name       string
		setup      func(db *database.MockTraderChatRepository)
		statusCode int
	}{
		{
			name: "existing user",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("GetUser", mock.Anything, "bob").Return(database.User{Username: "bob", SubscriptionTier: "pro", CreatedAt: created}, nil)
				db.On("CountFollows", mock.Anything, "bob").Return(database.FollowCounts{Followers: 3, Following: 1}, nil)
			},
			statusCode: http.StatusOK,
		},
		{
			name: "unknown user",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("GetUser", mock.Anything, "bob").Return(database.User{}, sql.ErrNoRows)
			},
			statusCode: http.StatusNotFound,
		},
		{
			name: "database failure",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("GetUser", mock.Anything, "bob").Return(database.User{}, errors.New("connection refused"))
			},
			statusCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTraderChatRepository{}
			defer mockRepo.AssertExpectations(t)
			tc.setup(mockRepo)

			app := newTestApp(t, mockRepo)

			rr := do(app, httptest.NewRequest(http.MethodGet, "/api/users/bob", nil))
			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusOK {
				return
			}

			var profile types.Profile
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&profile))
			assert.Equal(t, types.Profile{
				Username:  "bob",
				Tier:      "pro",
				CreatedAt: created,
				Followers: 3,
				Following: 1,
			}, profile)
		})
	}
}

func TestGetAnalytics(t *testing.T) {
	mockRepo := &database.MockTraderChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetUser", mock.Anything, "bob").Return(database.User{Username: "bob"}, nil)
	mockRepo.On("ListSignalMetadata", mock.Anything, mock.MatchedBy(func(f database.SignalFilter) bool {
		return f.Author == "bob"
	})).Return([]database.SignalMetadata{}, nil)

	app := newTestApp(t, mockRepo)

	rr := do(app, httptest.NewRequest(http.MethodGet, "/api/users/bob/analytics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"bob"`)
}

func TestGetFollowers(t *testing.T) {
	mockRepo := &database.MockTraderChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListFollowers", mock.Anything, "bob").Return([]string(nil), nil)

	app := newTestApp(t, mockRepo)

	rr := do(app, httptest.NewRequest(http.MethodGet, "/api/users/bob/followers", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestAdminDeletes(t *testing.T) {
	tcases := []struct {
		name       string
		method     string
		path       string
		setup      func(db *database.MockTraderChatRepository)
		statusCode int
		expected   DeleteResponse
	}{
		{
			name:   "single message",
			method: http.MethodDelete,
			path:   "/api/admin/messages/42",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("GetMessage", mock.Anything, int64(42)).Return(database.Message{Id: 42, Room: "forex"}, nil)
				db.On("DeleteMessage", mock.Anything, int64(42)).Return(nil)
			},
			statusCode: http.StatusOK,
			expected:   DeleteResponse{Room: "forex", MessageIds: []int64{42}},
		},
		{
			name:   "missing message",
			method: http.MethodDelete,
			path:   "/api/admin/messages/42",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("GetMessage", mock.Anything, int64(42)).Return(database.Message{}, sql.ErrNoRows)
			},
			statusCode: http.StatusNotFound,
		},
		{
			name:       "invalid message id",
			method:     http.MethodDelete,
			path:       "/api/admin/messages/abc",
			setup:      func(db *database.MockTraderChatRepository) {},
			statusCode: http.StatusBadRequest,
		},
		{
			name:   "room history",
			method: http.MethodDelete,
			path:   "/api/admin/rooms/general/messages",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("DeleteRoomMessages", mock.Anything, "general").Return([]int64{1, 2, 3}, nil)
			},
			statusCode: http.StatusOK,
			expected:   DeleteResponse{Room: "general", MessageIds: []int64{1, 2, 3}},
		},
		{
			name:   "user history in room",
			method: http.MethodDelete,
			path:   "/api/admin/rooms/general/users/spammer/messages",
			setup: func(db *database.MockTraderChatRepository) {
				db.On("DeleteUserMessages", mock.Anything, "spammer", "general").Return([]int64(nil), nil)
			},
			statusCode: http.StatusOK,
			expected:   DeleteResponse{Room: "general", MessageIds: []int64{}},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTraderChatRepository{}
			defer mockRepo.AssertExpectations(t)
			tc.setup(mockRepo)

			app := newTestApp(t, mockRepo)

			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.AddCookie(adminCookie(t, app))
			rr := do(app, req)

			require.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode != http.StatusOK {
				return
			}

			var resp DeleteResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tc.expected, resp)
		})
	}
}

func TestListUsers(t *testing.T) {
	mockRepo := &database.MockTraderChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListUsers", mock.Anything).Return([]database.User{
		{Username: "alice", SubscriptionTier: "free"},
		{Username: "bob", SubscriptionTier: "pro"},
	}, nil)

	app := newTestApp(t, mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(adminCookie(t, app))
	rr := do(app, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var users []types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "pro", users[1].Tier)
}

func TestServeWs(t *testing.T) {
	mockRepo := &database.MockTraderChatRepository{}
	mockRepo.On("GetOrCreateUser", mock.Anything, "alice").Return(database.User{Username: "alice", SubscriptionTier: "free"}, nil)

	app := newTestApp(t, mockRepo)

	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("disallowed origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.test"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("register over the socket", func(t *testing.T) {
		header := http.Header{"Origin": []string{testOrigin}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"register_user":{"username":"alice"}}`)))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame struct {
			Id    int        `json:"id"`
			Event string     `json:"event"`
			Data  types.User `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, 1, frame.Id)
		assert.Equal(t, server.EvUserRegistered, frame.Event)
		assert.Equal(t, "alice", frame.Data.Username)
		assert.Equal(t, "free", frame.Data.Tier)
	})
}
