// Transport Gateway: upgrades HTTP connections to WebSocket, resolves
// identity, binds ConnID -> Room, and runs the per-connection send/receive
// pumps. Grounded on internal/v1/session/hub.go's ServeWs and
// internal/v1/session/client.go's Client/wsConnection/readPump/writePump.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/meetinghub/internal/auth"
	"github.com/example/meetinghub/internal/metrics"
	"github.com/example/meetinghub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsConnection abstracts the subset of *websocket.Conn the gateway needs,
// kept verbatim in shape so it can be driven by an in-memory fake in tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// defaultSendQueueDepth is the per-connection buffered channel capacity used
// when a Gateway is constructed without an explicit depth (e.g. in tests).
const defaultSendQueueDepth = 256

const writeWait = 10 * time.Second

// Client represents one live WebSocket connection bound to an authenticated
// identity and to the Room named in the upgrade URL, set at connect time.
type Client struct {
	id          ConnID
	userID      UserID
	displayName DisplayName

	conn wsConnection
	send chan []byte

	room *Room

	mu     sync.Mutex
	closed bool
}

// enqueue queues frame for delivery without blocking. A full queue is the
// Transport Gateway's sole drop point: the connection is force-closed so
// the client observes it as a lost connection and reconnects.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("send queue full, force-closing connection", "connID", c.id, "userID", c.userID)
		c.forceClose()
	}
}

func (c *Client) forceClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.room.handleDisconnect(c)
		c.room.registry.unbindConn(c.id)
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		evt, err := sniffType(data)
		if err != nil {
			slog.Warn("failed to sniff event type", "connID", c.id, "error", err)
			continue
		}

		c.room.dispatch(context.Background(), c, evt, data)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Gateway is the composition root for WebSocket handling: it authenticates,
// rate-limits, upgrades, and hands connections off to the Registry.
type Gateway struct {
	registry       *Registry
	validator      auth.TokenValidator
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
	sendQueueDepth int
}

// NewGateway constructs a Gateway. rateLimiter may be nil to disable rate
// limiting entirely (e.g. in tests). sendQueueDepth <= 0 falls back to
// defaultSendQueueDepth.
func NewGateway(registry *Registry, validator auth.TokenValidator, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string, sendQueueDepth int) *Gateway {
	if sendQueueDepth <= 0 {
		sendQueueDepth = defaultSendQueueDepth
	}
	return &Gateway{
		registry:       registry,
		validator:      validator,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
		sendQueueDepth: sendQueueDepth,
	}
}

// ServeWS is the gin handler for the WebSocket upgrade endpoint.
func (g *Gateway) ServeWS(c *gin.Context) {
	if g.rateLimiter != nil && !g.rateLimiter.CheckWebSocket(c) {
		return
	}

	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return
	}

	claims, err := g.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if g.rateLimiter != nil {
		if err := g.rateLimiter.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections for this user"})
			return
		}
	}

	roomID := RoomID(c.Param("roomId"))

	displayName := c.Query("username")
	if displayName == "" {
		displayName = claims.Name
		if displayName == "" && claims.Email != "" {
			if parts := strings.Split(claims.Email, "@"); len(parts) > 0 {
				displayName = parts[0]
			}
		}
		if displayName == "" {
			displayName = claims.Subject
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, g.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}

	room, _ := g.registry.getOrCreateRoom(roomID)

	client := &Client{
		id:          ConnID(fmt.Sprintf("%s-%d", claims.Subject, time.Now().UnixNano())),
		userID:      UserID(claims.Subject),
		displayName: DisplayName(displayName),
		conn:        conn,
		send:        make(chan []byte, g.sendQueueDepth),
		room:        room,
	}

	g.registry.bindConn(client.id, client.userID, roomID)
	room.registerConn(client)

	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

// validateOrigin checks the request Origin against an allow-list by scheme
// and host, matching internal/v1/session/hub_helpers.go's validateOrigin.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}
