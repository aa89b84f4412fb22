// ABOUTME: WebSocket termination for connection-oriented sources
// ABOUTME: Read pump feeds the dispatcher, write pump drains the hub connection

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/confab-dev/confab/internal/hub"
	"github.com/confab-dev/confab/internal/protocol"
	"github.com/confab-dev/confab/internal/store"
)

const (
	// writeWait is the deadline for a single socket write
	writeWait = 10 * time.Second

	// pongWait is how long a connection may go silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is the deployment proxy's concern; the gateway sits
	// behind the authenticating transport layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientCommand is one inbound WebSocket frame from a client
type clientCommand struct {
	Action         string     `json:"action"` // join, leave, message, typing
	ConversationID string     `json:"conversationId"`
	Role           store.Role `json:"role,omitempty"`
	Content        string     `json:"content,omitempty"`
	IsTyping       bool       `json:"isTyping,omitempty"`
}

// wsClient binds one WebSocket to one hub connection
type wsClient struct {
	ws     *websocket.Conn
	conn   *hub.Connection
	server *Server
	logger *slog.Logger
}

// handleWebSocket upgrades the request and runs the connection's pumps.
// The client's source comes from the ?source= query parameter, supplied by
// the authenticating layer in front of the gateway.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	src := store.Source(r.URL.Query().Get("source"))
	if !src.Valid() || !src.ConnectionOriented() {
		http.Error(w, "source must be one of desktop, web, iphone", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := s.hub.Register(src)
	client := &wsClient{
		ws:     ws,
		conn:   conn,
		server: s,
		logger: s.logger.With("connection_id", conn.ID, "source", src),
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads client frames and hands each one to the dispatcher. It
// owns the dispatcher-side lifecycle: when the read loop ends, the
// connection is disconnected and its departure announced.
func (c *wsClient) readPump() {
	defer func() {
		c.server.dispatcher.Disconnect(c.conn.ID)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting read deadline", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reject("", "validation_error", "malformed frame: "+err.Error())
			continue
		}
		c.handleCommand(&cmd)
	}
}

// handleCommand routes one parsed frame. Failures are reported to this
// client only; they never affect other connections.
func (c *wsClient) handleCommand(cmd *clientCommand) {
	d := c.server.dispatcher

	switch cmd.Action {
	case "join":
		if err := d.Join(c.conn.ID, cmd.ConversationID); err != nil {
			c.reject(cmd.ConversationID, errorCode(err), err.Error())
		}

	case "leave":
		d.Leave(c.conn.ID)

	case "message":
		sub := &protocol.Submission{
			ConversationID: cmd.ConversationID,
			Role:           cmd.Role,
			Content:        cmd.Content,
			Source:         c.conn.Source,
		}
		if sub.Role == "" {
			sub.Role = store.RoleUser
		}
		if _, err := d.SubmitMessage(sub, c.conn.ID); err != nil {
			c.reject(cmd.ConversationID, errorCode(err), err.Error())
		}

	case "typing":
		if err := d.SubmitTyping(cmd.ConversationID, c.conn.Source, cmd.IsTyping, c.conn.ID); err != nil {
			c.reject(cmd.ConversationID, errorCode(err), err.Error())
		}

	default:
		c.reject(cmd.ConversationID, "validation_error", "unknown action "+cmd.Action)
	}
}

// reject queues an error envelope back to this client alone
func (c *wsClient) reject(conversationID, code, message string) {
	if err := c.server.hub.Send(c.conn.ID, protocol.NewErrorEnvelope(conversationID, code, message)); err != nil {
		c.logger.Debug("error envelope not delivered", "error", err)
	}
}

// writePump drains the hub connection's envelope stream onto the socket and
// keeps the connection alive with pings. It exits when the stream is closed
// (hub disconnect) or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.conn.Events():
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("setting write deadline", "error", err)
				return
			}
			if !ok {
				// Hub closed this connection
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("setting write deadline", "error", err)
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// errorCode maps an error to the wire error code vocabulary
func errorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrValidation):
		return "validation_error"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, hub.ErrConnectionNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
