package server

import (
	"context"
	"encoding/json"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	handlerTimeout = 10 * time.Second
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.RWMutex
	username string
	room     string
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Username is the user bound by register_user, empty before registration.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
}

// CurrentRoom is the room the connection is subscribed to, if any.
func (c *Client) CurrentRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
}

// Register adds the client to the chat server. It returns false when the
// server is shutting down.
func (c *Client) Register() bool {
	return enqueue(c.chatServer, c.chatServer.registerChan, c)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrorReply(0, "message_error", Validation("invalid message format")))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()
		c.dispatch(&msg)
	}
}

// dispatch validates msg and runs its handler. Any failure, including a
// panic, is reported to this connection only.
func (c *Client) dispatch(msg *ClientMessage) {
	event, payload, err := msg.Event()
	if err != nil {
		c.queueMessage(ErrorReply(msg.Id, "message_error", Validation("%s", err)))
		return
	}
	if err := payload.Validate(); err != nil {
		c.queueMessage(ErrorReply(msg.Id, errorFamily(event), Validation("%s", err)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("panic handling %s: %v\n%s", event, r, debug.Stack())
			c.queueMessage(Reply(msg.Id, EvInternalError, ErrorData{
				Kind:    KindInternal,
				Message: "internal server error",
			}))
		}
	}()

	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	if err := c.chatServer.handle(ctx, c, event, msg); err != nil {
		ee := toEventError(err)
		if ee.Kind == KindPersistence {
			c.log.Printf("%s: %v", event, err)
		}
		c.queueMessage(ErrorReply(msg.Id, errorFamily(event), ee))
	}
}

// actor returns the registered username. A payload naming a different user
// is rejected.
func (c *Client) actor(claimed string) (string, error) {
	username := c.Username()
	if username == "" {
		return "", PermissionDenied("send register_user first")
	}
	if claimed != "" && claimed != username {
		return "", PermissionDenied("cannot act as %q", claimed)
	}
	return username, nil
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	enqueue(c.chatServer, c.chatServer.deRegisterChan, c)
	c.stopClient()
}
