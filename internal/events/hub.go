package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tos-network/kale-analytics/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only public feed
	},
}

// Hub streams events to websocket subscribers
type Hub struct {
	clients   *xsync.Map[uint64, *wsClient]
	clientSeq uint64

	// mu orders registration against Stop so no client is added once Stop waits
	mu       sync.Mutex
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type wsClient struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: xsync.NewMap[uint64, *wsClient](),
		quit:    make(chan struct{}),
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	return h.clients.Size()
}

// Publish queues ev for every subscriber. Slow subscribers whose buffer is
// full miss the event.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		util.Warnf("Failed to encode event %s: %v", ev.Name(), err)
		return
	}

	h.clients.Range(func(id uint64, c *wsClient) bool {
		select {
		case c.send <- data:
		default:
			util.Debugf("Event subscriber %d is lagging, dropped %s", id, ev.Name())
		}
		return true
	})
}

func (h *Hub) isStopped() bool {
	select {
	case <-h.quit:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request and registers a subscriber
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isStopped() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	c := &wsClient{
		id:   atomic.AddUint64(&h.clientSeq, 1),
		conn: conn,
		send: make(chan []byte, clientSendSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.isStopped() {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients.Store(c.id, c)
	h.wg.Add(2)
	h.mu.Unlock()
	util.Debugf("Event subscriber %d connected from %s", c.id, r.RemoteAddr)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Stop disconnects every subscriber
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.quit)
		h.mu.Unlock()

		h.clients.Range(func(id uint64, c *wsClient) bool {
			c.conn.Close()
			return true
		})
		h.wg.Wait()
		util.Info("Event hub stopped")
	})
}

// readLoop drains control frames until the peer goes away
func (h *Hub) readLoop(c *wsClient) {
	defer h.wg.Done()
	defer func() {
		h.clients.Delete(c.id)
		close(c.done)
		c.conn.Close()
		util.Debugf("Event subscriber %d disconnected", c.id)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
