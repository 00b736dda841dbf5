package server

import (
	"context"
	"errors"
	"log"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/events"
	"github.com/npezzotti/trader-chat/internal/leaderboard"
	"github.com/npezzotti/trader-chat/internal/notify"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/npezzotti/trader-chat/internal/tier"
	"github.com/npezzotti/trader-chat/internal/types"
)

const (
	DefaultHistoryLimit = 200
	notificationsLimit  = 50
)

var errServerStopped = errors.New("chat server is shutting down")

type Options struct {
	Leaderboard     *leaderboard.Service
	Exporter        events.Exporter
	HistoryLimit    int
	LeaderboardTopN int
}

type subscribeReq struct {
	client *Client
	room   string
	// initial is queued to the client before any room broadcast.
	initial []*ServerMessage
	done    chan struct{}
}

type unsubscribeReq struct {
	client *Client
	room   string
	done   chan struct{}
}

// evictReq removes every session of username from room. notice goes to all
// of the user's sessions, or only the evicted ones when evictedOnly is set.
type evictReq struct {
	room        string
	username    string
	notice      *ServerMessage
	evictedOnly bool
}

type stopReq struct {
	done chan struct{}
}

// ChatServer owns the set of live connections and room subscriptions. All
// of that state is only touched by the Run goroutine.
type ChatServer struct {
	log         *log.Logger
	db          database.TraderChatRepository
	stats       stats.StatsProvider
	notifier    *notify.FollowNotifier
	leaderboard *leaderboard.Service
	exporter    events.Exporter

	historyLimit int
	topN         int

	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}
	rooms   map[string]*Room

	registerChan    chan *Client
	identifyChan    chan *Client
	deRegisterChan  chan *Client
	subscribeChan   chan *subscribeReq
	unsubscribeChan chan *unsubscribeReq
	evictChan       chan *evictReq
	broadcastChan   chan *ServerMessage
	stop            chan stopReq
	done            chan struct{}
}

func NewChatServer(logger *log.Logger, db database.TraderChatRepository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.Exporter == nil {
		opts.Exporter = events.NopExporter{}
	}
	if opts.Leaderboard == nil {
		opts.Leaderboard = leaderboard.NewService(db, nil, leaderboard.DefaultMinCompletedSignals, logger)
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.LeaderboardTopN <= 0 {
		opts.LeaderboardTopN = leaderboard.DefaultTopN
	}

	for _, name := range stats.Counters {
		su.RegisterMetric(name)
	}

	cs := &ChatServer{
		log:             logger,
		db:              db,
		stats:           su,
		leaderboard:     opts.Leaderboard,
		exporter:        opts.Exporter,
		historyLimit:    opts.HistoryLimit,
		topN:            opts.LeaderboardTopN,
		clients:         make(map[*Client]struct{}),
		users:           make(map[string]map[*Client]struct{}),
		rooms:           make(map[string]*Room),
		registerChan:    make(chan *Client),
		identifyChan:    make(chan *Client),
		deRegisterChan:  make(chan *Client),
		subscribeChan:   make(chan *subscribeReq),
		unsubscribeChan: make(chan *unsubscribeReq),
		evictChan:       make(chan *evictReq, 64),
		broadcastChan:   make(chan *ServerMessage, 256),
		stop:            make(chan stopReq),
		done:            make(chan struct{}),
	}
	cs.notifier = notify.NewFollowNotifier(db, cs, su, logger)

	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.identifyChan:
			cs.identifyClient(c)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case req := <-cs.subscribeChan:
			cs.handleSubscribe(req)
		case req := <-cs.unsubscribeChan:
			if req.client.CurrentRoom() == req.room {
				cs.leave(req.client, req.room)
			}
			close(req.done)
		case req := <-cs.evictChan:
			cs.handleEvict(req)
		case msg := <-cs.broadcastChan:
			cs.route(msg)
		case req := <-cs.stop:
			cs.log.Println("stopping chat server")
			for c := range cs.clients {
				c.stopClient()
			}
			if req.done != nil {
				close(req.done)
			}
			return
		}
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
}

func (cs *ChatServer) identifyClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}
	username := c.Username()
	if cs.users[username] == nil {
		cs.users[username] = make(map[*Client]struct{})
	}
	cs.users[username][c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	if room := c.CurrentRoom(); room != "" {
		cs.leave(c, room)
	}

	username := c.Username()
	if sessions, ok := cs.users[username]; ok {
		delete(sessions, c)
		if len(sessions) == 0 {
			delete(cs.users, username)
		}
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveClients)
	cs.log.Printf("removed connection for %q", username)
}

func (cs *ChatServer) handleSubscribe(req *subscribeReq) {
	defer close(req.done)

	c := req.client
	if _, ok := cs.clients[c]; !ok {
		return
	}

	if prev := c.CurrentRoom(); prev != "" && prev != req.room {
		cs.leave(c, prev)
	}

	r, ok := cs.rooms[req.room]
	if !ok {
		r = newRoom(req.room)
		cs.rooms[req.room] = r
		cs.stats.Incr(stats.NumActiveRooms)
	}

	for _, msg := range req.initial {
		c.queueMessage(msg)
	}

	r.addClient(c)
	c.setRoom(req.room)
	cs.route(ToRoom(r.id, EvOnlineUsers, OnlineUsers{Room: r.id, Users: r.usernames()}))
}

// leave removes c from room, unloading the room once it is empty.
func (cs *ChatServer) leave(c *Client, room string) {
	c.setRoom("")

	r, ok := cs.rooms[room]
	if !ok {
		return
	}

	r.removeClient(c)
	if r.empty() {
		delete(cs.rooms, room)
		cs.stats.Decr(stats.NumActiveRooms)
		return
	}

	cs.route(ToRoom(r.id, EvOnlineUsers, OnlineUsers{Room: r.id, Users: r.usernames()}))
}

func (cs *ChatServer) handleEvict(req *evictReq) {
	var evicted []*Client
	for c := range cs.users[req.username] {
		if c.CurrentRoom() == req.room {
			cs.leave(c, req.room)
			evicted = append(evicted, c)
		}
	}

	if req.notice == nil {
		return
	}
	if req.evictedOnly {
		for _, c := range evicted {
			c.queueMessage(req.notice)
		}
		return
	}
	req.notice.username = req.username
	cs.route(req.notice)
}

func (cs *ChatServer) route(msg *ServerMessage) {
	var targets map[*Client]struct{}
	switch {
	case msg.room != "":
		r, ok := cs.rooms[msg.room]
		if !ok {
			return
		}
		targets = r.clients
	case msg.username != "":
		targets = cs.users[msg.username]
	case msg.all:
		targets = cs.clients
	}

	for c := range targets {
		if c == msg.skip {
			continue
		}
		c.queueMessage(msg)
	}
}

func enqueue[T any](cs *ChatServer, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) subscribe(c *Client, room string, initial []*ServerMessage) error {
	req := &subscribeReq{client: c, room: room, initial: initial, done: make(chan struct{})}
	if !enqueue(cs, cs.subscribeChan, req) {
		return errServerStopped
	}
	<-req.done
	return nil
}

func (cs *ChatServer) unsubscribe(c *Client, room string) error {
	req := &unsubscribeReq{client: c, room: room, done: make(chan struct{})}
	if !enqueue(cs, cs.unsubscribeChan, req) {
		return errServerStopped
	}
	<-req.done
	return nil
}

// Evict unsubscribes every live session of username from room and sends
// notice to all of that user's sessions.
func (cs *ChatServer) Evict(room, username string, notice *ServerMessage) {
	enqueue(cs, cs.evictChan, &evictReq{room: room, username: username, notice: notice})
}

// evictLocked removes username from every public room tier t cannot access.
// Only the removed sessions are told.
func (cs *ChatServer) evictLocked(username string, t tier.Tier) {
	for _, r := range tier.PublicRooms() {
		if tier.CanAccessRoom(t, r.Id) {
			continue
		}
		notice := Reply(0, EvRoomLocked, RoomLocked{
			Room:         r.Id,
			RequiredTier: r.RequiredTier.String(),
			Message:      tier.LockedMessage(r.Id),
		})
		enqueue(cs, cs.evictChan, &evictReq{room: r.Id, username: username, notice: notice, evictedOnly: true})
	}
}

func (cs *ChatServer) Broadcast(msg *ServerMessage) {
	enqueue(cs, cs.broadcastChan, msg)
}

func (cs *ChatServer) PushNotification(username string, n types.Notification) {
	cs.Broadcast(ToUser(username, EvNewNotification, n))
}

// MessagesDeleted tells the room about messages removed outside of a client
// session and drops cached leaderboards.
func (cs *ChatServer) MessagesDeleted(ctx context.Context, room string, ids []int64) {
	for _, id := range ids {
		cs.Broadcast(ToRoom(room, EvMessageDeleted, MessageDeleted{MessageId: id, Room: room}))
	}
	if len(ids) > 0 {
		cs.leaderboard.Invalidate(ctx)
	}
}

func (cs *ChatServer) Leaderboard() *leaderboard.Service {
	return cs.leaderboard
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
