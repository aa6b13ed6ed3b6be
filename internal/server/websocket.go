package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duelforge/tactics-server-go/internal/config"
	"github.com/duelforge/tactics-server-go/internal/game"
)

// WebSocket message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgCommand     = "command"
	MsgSync        = "sync"

	MsgSnapshot  = "snapshot"
	MsgSnapshots = "snapshots"
	MsgResult    = "result"
	MsgError     = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// WSMessage is the envelope of every WebSocket frame in both directions.
type WSMessage struct {
	Type     string          `json:"type"`
	MatchID  string          `json:"match_id,omitempty"`
	PlayerID string          `json:"player_id,omitempty"`
	Seq      int64           `json:"seq,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Hub serves match snapshots and accepts commands over WebSocket. A connection watches
// one match as one viewer at a time.
type Hub struct {
	engine   Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub. Origins are checked against allowedOrigins; "*" allows any
// origin and an empty list only allows same-origin requests.
func NewHub(engine Engine, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		engine:     engine,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

// Run owns client registration until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.String("remote", c.conn.RemoteAddr().String()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Owned by readPump.
	matchID string
	viewer  string
	stop    func()
}

func (c *Client) readPump() {
	defer func() {
		c.unsubscribe()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "malformed message: "+err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queue hands a frame to writePump, dropping it when the client is too slow.
func (c *Client) queue(msg WSMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- raw:
	default:
		c.hub.logger.Warn("websocket client too slow, dropping message",
			zap.String("type", msg.Type),
			zap.String("viewer", c.viewer),
		)
	}
}

func (c *Client) reply(typ, matchID string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.sendError(matchID, err.Error())
		return
	}
	c.queue(WSMessage{Type: typ, MatchID: matchID, PlayerID: c.viewer, Data: raw})
}

func (c *Client) sendError(matchID, message string) {
	raw, _ := json.Marshal(map[string]string{"message": message})
	c.queue(WSMessage{Type: MsgError, MatchID: matchID, Data: raw})
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Type {
	case MsgSubscribe:
		if err := c.subscribe(msg.MatchID, msg.PlayerID); err != nil {
			c.sendError(msg.MatchID, err.Error())
		}

	case MsgUnsubscribe:
		c.unsubscribe()

	case MsgSync:
		if c.matchID == "" {
			c.sendError(msg.MatchID, "not subscribed")
			return
		}
		snaps, err := c.hub.engine.Sync(c.matchID, c.viewer, msg.Seq)
		if err != nil {
			c.sendError(c.matchID, err.Error())
			return
		}
		c.reply(MsgSnapshots, c.matchID, snaps)

	case MsgCommand:
		matchID := msg.MatchID
		if matchID == "" {
			matchID = c.matchID
		}
		var cmd game.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.sendError(matchID, "malformed command: "+err.Error())
			return
		}
		if cmd.PlayerID == game.SystemPlayer {
			c.sendError(matchID, "system commands cannot be sent by clients")
			return
		}
		if c.viewer != "" && matchID == c.matchID && cmd.PlayerID != c.viewer {
			c.sendError(matchID, "command player does not match subscribed viewer")
			return
		}
		res, err := c.hub.engine.Dispatch(context.Background(), matchID, cmd)
		if err != nil {
			c.sendError(matchID, err.Error())
			return
		}
		c.reply(MsgResult, matchID, res)

	default:
		c.sendError(msg.MatchID, "unknown message type "+msg.Type)
	}
}

// subscribe replaces the current subscription. The current state goes out first; later
// snapshots follow in sequence order.
func (c *Client) subscribe(matchID, viewer string) error {
	if matchID == "" {
		return errors.New("match_id is required")
	}
	c.unsubscribe()

	r := newRelay(DefaultSubscriberBuffer)
	cancel, err := c.hub.engine.Subscribe(matchID, viewer, r.push)
	if err != nil {
		return err
	}
	cur, err := c.hub.engine.Current(matchID, viewer)
	if err != nil {
		cancel()
		return err
	}
	c.matchID, c.viewer = matchID, viewer
	c.reply(MsgSnapshot, matchID, cur)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := cur.Seq
		for {
			select {
			case <-done:
				return
			case snap := <-r.out:
				if snap.Seq <= last {
					continue
				}
				last = snap.Seq
				c.reply(MsgSnapshot, matchID, snap)
			}
		}
	}()
	c.stop = func() {
		cancel()
		close(done)
		wg.Wait()
	}
	c.hub.logger.Debug("websocket client subscribed",
		zap.String("match_id", matchID),
		zap.String("viewer", viewer),
		zap.Int64("seq", cur.Seq),
	)
	return nil
}

func (c *Client) unsubscribe() {
	if c.stop == nil {
		return
	}
	c.stop()
	c.stop = nil
	c.matchID, c.viewer = "", ""
}

// StartWebSocketServer serves the hub on cfg.Address at /ws until ctx is done.
func StartWebSocketServer(ctx context.Context, cfg config.WebSocketConfig, engine Engine, logger *zap.Logger) error {
	hub := NewHub(engine, cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting WebSocket server", zap.String("address", cfg.Address))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
