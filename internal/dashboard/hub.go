package dashboard

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/observability/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Client is one browser tab listening to a session's views.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
}

// Hub fans session views out to websocket listeners. Topics are session
// ids.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	count   int
	origins map[string]struct{}

	upgrader websocket.Upgrader

	logger  zerolog.Logger
	metrics *metrics.SyncMetrics
}

func NewHub(logger zerolog.Logger, m *metrics.SyncMetrics) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		origins: make(map[string]struct{}),
		logger:  logger.With().Str("component", "ws").Logger(),
		metrics: m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// AllowOrigins lets browser pages served from other origins open listeners,
// e.g. "https://portal.example". Same-origin pages and clients that send no
// Origin header are always accepted.
func (h *Hub) AllowOrigins(origins ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range origins {
		h.origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	h.mu.RLock()
	_, ok := h.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn().Str("origin", origin).Msg("websocket origin refused")
	}
	return ok
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.clients[c.Topic] == nil {
		h.clients[c.Topic] = make(map[*Client]struct{})
	}
	h.clients[c.Topic][c] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
}

// Unregister removes c and closes its Send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	subs, ok := h.clients[c.Topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.Topic)
	}
	close(c.Send)
	h.count--
	n := h.count
	h.mu.Unlock()
	h.metrics.SetWSClients(n)
}

// CloseTopic disconnects every listener of a topic.
func (h *Hub) CloseTopic(topic string) {
	h.mu.RLock()
	var subs []*Client
	for c := range h.clients[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	for _, c := range subs {
		h.Unregister(c)
	}
}

// Broadcast sends v to every listener of topic. Listeners with a full
// buffer miss this view; the next one supersedes it.
func (h *Hub) Broadcast(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal view")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[topic] {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Serve upgrades the request and streams topic's views, starting with
// initial.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topic string, initial any) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		ID:    uuid.NewString(),
		Topic: topic,
		Send:  make(chan []byte, sendBuffer),
	}
	if data, err := json.Marshal(initial); err == nil {
		c.Send <- data
	}
	h.Register(c)
	h.logger.Debug().Str("client", c.ID).Str("topic", topic).Msg("listener connected")

	go h.writePump(c, ws)
	go h.readPump(c, ws)
	return nil
}

// readPump only watches for the peer going away.
func (h *Hub) readPump(c *Client, ws *websocket.Conn) {
	defer func() {
		h.Unregister(c)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
