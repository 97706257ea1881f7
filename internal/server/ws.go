package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tarot/internal/engine"
)

var (
	ErrConnClosed  = errors.New("connection closed")
	ErrSlowClient  = errors.New("client send buffer full")
	ErrBadToken    = errors.New("invalid token")
	ErrUserMissing = errors.New("user id required")
)

// TokenVerifier maps a join token to the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler serves the websocket endpoint for every table in a Registry.
type Handler struct {
	tables   *Registry
	verifier TokenVerifier
	upgrader websocket.Upgrader
}

// NewHandler accepts browser origins from allow. An empty list or "*" allows
// any origin. A nil verifier accepts the user id sent in JOIN.
func NewHandler(tables *Registry, allow []string, verifier TokenVerifier) *Handler {
	origins := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			origins[a] = true
		}
	}
	return &Handler{
		tables:   tables,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
			},
		},
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenUser := ""
	if token := r.URL.Query().Get("token"); token != "" && h.verifier != nil {
		user, err := h.verifier.Verify(token)
		if err != nil {
			http.Error(w, ErrBadToken.Error(), http.StatusUnauthorized)
			return
		}
		tokenUser = user
	} else if h.verifier != nil {
		http.Error(w, ErrBadToken.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	c := &client{
		id:        uuid.NewString(),
		conn:      conn,
		handler:   h,
		tokenUser: tokenUser,
		sendChan:  make(chan []byte, 256),
	}
	go c.writePump()
	c.readPump()
}

type client struct {
	id        string
	conn      *websocket.Conn
	handler   *Handler
	tokenUser string

	mu       sync.Mutex
	sendChan chan []byte
	closed   bool

	table  *Table
	userID string
}

func (c *client) ID() string { return c.id }

// Send queues m for the write pump. A client that falls 256 frames behind
// loses frames rather than stalling its table.
func (c *client) Send(m Outbound) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.sendChan {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		if c.table != nil {
			c.table.Disconnect(c)
		}
		c.mu.Lock()
		c.closed = true
		close(c.sendChan)
		c.mu.Unlock()
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeInbound(data)
		if err != nil {
			_ = c.Send(ErrorFor(err))
			continue
		}
		if err := c.handle(msg); err != nil && !errors.Is(err, engine.ErrInvariant) {
			_ = c.Send(ErrorFor(err))
		}
	}
}

func (c *client) handle(m Inbound) error {
	switch msg := m.(type) {
	case PingMsg:
		return c.Send(PongMsg{})
	case JoinMsg:
		return c.join(msg)
	default:
		if c.table == nil {
			return ErrNotSeated
		}
		return c.table.Handle(c.userID, m)
	}
}

func (c *client) join(msg JoinMsg) error {
	userID := msg.UserID
	if c.tokenUser != "" {
		if userID != "" && userID != c.tokenUser {
			return fmt.Errorf("%w: user %s does not match token", ErrBadToken, userID)
		}
		userID = c.tokenUser
	}
	if userID == "" {
		return ErrUserMissing
	}
	name := msg.DisplayName
	if name == "" {
		name = userID
	}
	if c.table != nil && (c.table.ID() != msg.TableID || c.userID != userID) {
		c.table.Leave(c.userID)
		c.table = nil
	}
	t := c.handler.tables.Open(msg.TableID)
	seat, err := t.Join(c, userID, name)
	if err != nil {
		return err
	}
	c.table, c.userID = t, userID
	log.Printf("ws %s: %s seated at %s/%d", c.id, userID, t.ID(), seat)
	return nil
}
