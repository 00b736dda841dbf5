package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/trader-chat/internal/config"
	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/server"
)

type GoChatApp struct {
	log            *log.Logger
	db             database.TraderChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	adminHash      string
	allowedOrigins []string
}

// NewGoChatApp registers the HTTP routes on mux. mux may already carry
// other handlers such as /debug/vars.
func NewGoChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.TraderChatRepository, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		adminHash:      cfg.AdminPasswordHash,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)

	mux.HandleFunc("GET /api/rooms", s.getRooms)
	mux.HandleFunc("GET /api/leaderboard", s.getLeaderboard)
	mux.HandleFunc("GET /api/signals", s.getSignals)
	mux.HandleFunc("GET /api/users/{username}", s.getProfile)
	mux.HandleFunc("GET /api/users/{username}/analytics", s.getAnalytics)
	mux.HandleFunc("GET /api/users/{username}/followers", s.getFollowers)

	mux.HandleFunc("POST /api/admin/login", s.adminLogin)
	mux.HandleFunc("POST /api/admin/logout", s.adminLogout)
	mux.Handle("GET /api/admin/users", s.adminMiddleware(s.listUsers))
	mux.Handle("DELETE /api/admin/messages/{id}", s.adminMiddleware(s.deleteMessage))
	mux.Handle("DELETE /api/admin/rooms/{room}/messages", s.adminMiddleware(s.deleteRoomMessages))
	mux.Handle("DELETE /api/admin/rooms/{room}/users/{username}/messages", s.adminMiddleware(s.deleteUserMessages))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
