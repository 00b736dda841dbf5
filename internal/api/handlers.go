package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/leaderboard"
	"github.com/npezzotti/trader-chat/internal/server"
	"github.com/npezzotti/trader-chat/internal/signal"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
)

var timeNow = time.Now

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) getRooms(w http.ResponseWriter, r *http.Request) {
	rooms := make([]types.Room, 0)
	for _, room := range tier.PublicRooms() {
		rooms = append(rooms, types.Room{
			Id:           room.Id,
			Name:         room.Name,
			Description:  room.Description,
			RequiredTier: room.RequiredTier.String(),
		})
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period, err := leaderboard.ParsePeriod(q.Get("period"))
	if err != nil {
		errResp := NewBadRequestError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sortBy, err := leaderboard.ParseSortKey(q.Get("sortBy"))
	if err != nil {
		errResp := NewBadRequestError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if l := q.Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			errResp := NewBadRequestError("limit must be a positive integer")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	lb := s.cs.Leaderboard()
	rows, err := lb.Leaderboard(r.Context(), leaderboard.Query{
		Period: period,
		SortBy: sortBy,
		Limit:  limit,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if rows == nil {
		rows = make([]leaderboard.TraderSummary, 0)
	}

	s.writeJson(w, http.StatusOK, server.LeaderboardData{
		Period:              period,
		SortBy:              sortBy,
		MinCompletedSignals: lb.MinCompletedSignals(),
		Leaderboard:         rows,
	})
}

func (s *GoChatApp) getSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period, err := leaderboard.ParsePeriod(q.Get("period"))
	if err != nil {
		errResp := NewBadRequestError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	filter := database.SignalFilter{
		Author: strings.TrimSpace(q.Get("author")),
		Since:  period.Since(timeNow()),
	}
	if o := q.Get("outcome"); o != "" {
		outcome, err := signal.ParseOutcome(o)
		if err != nil {
			errResp := NewBadRequestError(err.Error())
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		filter.Outcome = string(outcome)
	}

	rows, err := s.db.ListSignalMetadata(r.Context(), filter)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.SignalMetadataListFromModel(rows))
}

func (s *GoChatApp) getProfile(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	user, err := s.db.GetUser(r.Context(), username)
	if err != nil {
		errResp := dbError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.db.CountFollows(r.Context(), username)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.Profile{
		Username:  user.Username,
		Tier:      user.SubscriptionTier,
		CreatedAt: user.CreatedAt,
		Followers: counts.Followers,
		Following: counts.Following,
	})
}

func (s *GoChatApp) getAnalytics(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	period, err := leaderboard.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		errResp := NewBadRequestError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetUser(r.Context(), username); err != nil {
		errResp := dbError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	analytics, err := s.cs.Leaderboard().Analytics(r.Context(), username, period)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, analytics)
}

func (s *GoChatApp) getFollowers(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	followers, err := s.db.ListFollowers(r.Context(), username)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if followers == nil {
		followers = make([]string, 0)
	}

	s.writeJson(w, http.StatusOK, followers)
}

func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(r.Context())
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]types.User, 0, len(users))
	for _, u := range users {
		resp = append(resp, types.UserFromModel(u))
	}

	s.writeJson(w, http.StatusOK, resp)
}

type DeleteResponse struct {
	Room       string  `json:"room"`
	MessageIds []int64 `json:"messageIds"`
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError("invalid message id")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessage(r.Context(), id)
	if err != nil {
		errResp := dbError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteMessage(r.Context(), id); err != nil {
		errResp := dbError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Printf("admin deleted message %d in %s", id, msg.Room)
	s.messagesDeleted(w, r, msg.Room, []int64{id})
}

func (s *GoChatApp) deleteRoomMessages(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	ids, err := s.db.DeleteRoomMessages(r.Context(), room)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Printf("admin cleared %d messages in %s", len(ids), room)
	s.messagesDeleted(w, r, room, ids)
}

func (s *GoChatApp) deleteUserMessages(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	username := r.PathValue("username")

	ids, err := s.db.DeleteUserMessages(r.Context(), username, room)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Printf("admin cleared %d messages by %s in %s", len(ids), username, room)
	s.messagesDeleted(w, r, room, ids)
}

func (s *GoChatApp) messagesDeleted(w http.ResponseWriter, r *http.Request, room string, ids []int64) {
	if ids == nil {
		ids = make([]int64, 0)
	}
	s.cs.MessagesDeleted(r.Context(), room, ids)
	s.writeJson(w, http.StatusOK, DeleteResponse{Room: room, MessageIds: ids})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cs, s.log)
	if !client.Register() {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
