package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"sidecar/channel"
	"sidecar/cmd"
	"sidecar/internal/config"
	"sidecar/internal/logging"
	"sidecar/plugin"
)

// init registers the WebSocket channel
func init() {
	channel.Register(NewWebSocketChannel())
}

// WebSocketChannel provides WebSocket server integration
type WebSocketChannel struct {
	broker   channel.MessageBroker
	router   *cmd.Router
	msgCh    <-chan channel.Message
	ctx      context.Context
	server   *http.Server
	clients  map[*websocket.Conn]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string                 `json:"type"`    // "command", "chat", "notification"
	Payload string                 `json:"payload"` // Message content
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NewWebSocketChannel creates a new WebSocket channel
func NewWebSocketChannel() *WebSocketChannel {
	return &WebSocketChannel{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Add origin checking for security
				return true
			},
		},
		log: logging.Subsystem("websocket"),
	}
}

// Name returns the channel name
func (c *WebSocketChannel) Name() string {
	return "websocket"
}

// CheckRequirements validates channel requirements
func (c *WebSocketChannel) CheckRequirements(ctx context.Context) error {
	checker := plugin.NewRequirementChecker("websocket", c.log)

	// Require daemon mode
	checker.AddRequired(
		"daemon_mode",
		"WebSocket requires daemon mode",
		plugin.RequireMode(config.ModeDaemon),
	)

	return checker.Check(ctx)
}

// Start initializes the WebSocket server
func (c *WebSocketChannel) Start(ctx context.Context, broker channel.MessageBroker) error {
	c.broker = broker
	c.ctx = ctx
	c.router = cmd.NewRouter()

	// Get port from config
	port := 8080
	if cfg, ok := ctx.Value("config").(*config.Config); ok {
		if portVal, ok := cfg.GetChannelSettingInt("websocket", "port"); ok {
			port = portVal
		}
	}

	// Subscribe to broker messages
	c.msgCh = broker.Subscribe("websocket", 100, "notification", "response")

	// Start broker message handler
	go c.handleBrokerMessages()

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWebSocket)

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	// Start server
	go func() {
		c.log.WithField("port", port).Info("starting server")
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.WithField("error", err).Error("server error")
		}
	}()

	return nil
}

// Stop shuts down the WebSocket server
func (c *WebSocketChannel) Stop(ctx context.Context) error {
	// Close all client connections
	c.mu.Lock()
	for conn := range c.clients {
		conn.Close()
	}
	c.clients = make(map[*websocket.Conn]bool)
	c.mu.Unlock()

	// Shutdown server
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			c.log.WithField("error", err).Error("error shutting down server")
		}
	}

	// Unsubscribe from broker
	if c.broker != nil {
		c.broker.Unsubscribe("websocket")
	}

	c.log.Info("stopped")
	return nil
}

// handleWebSocket handles WebSocket connections
func (c *WebSocketChannel) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade connection
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.WithField("error", err).Error("upgrade error")
		return
	}

	// Register client
	c.mu.Lock()
	c.clients[conn] = true
	c.mu.Unlock()

	c.log.WithField("remote", r.RemoteAddr).Info("client connected")

	// Send welcome message
	c.sendToClient(conn, WSMessage{
		Type:    "notification",
		Payload: "Connected to sidecar daemon",
	})

	// Handle client messages
	go c.handleClientMessages(conn)
}

// handleClientMessages receives and processes messages from a WebSocket client
func (c *WebSocketChannel) handleClientMessages(conn *websocket.Conn) {
	defer func() {
		// Unregister client
		c.mu.Lock()
		delete(c.clients, conn)
		c.mu.Unlock()
		conn.Close()
		c.log.Info("client disconnected")
	}()

	for {
		var msg WSMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithField("error", err).Warn("read error")
			}
			break
		}

		c.log.WithFields(logrus.Fields{
			"type":    msg.Type,
			"payload": msg.Payload,
		}).Debug("received message")

		// Process message based on type
		switch msg.Type {
		case "command":
			c.handleCommand(conn, msg.Payload)

		case "chat":
			c.handleChat(msg.Payload)

		default:
			c.sendToClient(conn, WSMessage{
				Type:    "error",
				Payload: fmt.Sprintf("Unknown message type: %s", msg.Type),
			})
		}
	}
}

// handleCommand processes a command from WebSocket
func (c *WebSocketChannel) handleCommand(conn *websocket.Conn, command string) {
	result, err := c.router.Route(c.ctx, command)
	if err != nil {
		c.sendToClient(conn, WSMessage{
			Type:    "error",
			Payload: err.Error(),
		})
		return
	}

	if result != nil {
		c.sendToClient(conn, WSMessage{
			Type:    "response",
			Payload: result.Output,
			Data:    map[string]interface{}{"result": result.Data},
		})

		// Broadcast if requested
		if result.Broadcast {
			c.broker.Publish(c.ctx, channel.Message{
				Topic:   "notification",
				Payload: result.Output,
				Source:  "websocket",
			})
		}
	}
}

// handleChat publishes a chat message for hook dispatch
func (c *WebSocketChannel) handleChat(text string) {
	c.broker.Publish(c.ctx, channel.Message{
		Topic:   "message",
		Payload: text,
		Source:  "websocket",
	})
}

// handleBrokerMessages receives messages from the broker and broadcasts to clients
func (c *WebSocketChannel) handleBrokerMessages() {
	for msg := range c.msgCh {
		// Convert message to WSMessage
		var text string
		if str, ok := msg.Payload.(string); ok {
			text = str
		} else {
			text = fmt.Sprintf("%v", msg.Payload)
		}

		wsMsg := WSMessage{
			Type:    msg.Topic,
			Payload: text,
		}

		// Broadcast to all clients
		c.broadcast(wsMsg)
	}
}

// sendToClient sends a message to a specific client
func (c *WebSocketChannel) sendToClient(conn *websocket.Conn, msg WSMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		c.log.WithField("error", err).Warn("write error")
	}
}

// broadcast sends a message to all connected clients
func (c *WebSocketChannel) broadcast(msg WSMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for conn := range c.clients {
		if err := conn.WriteJSON(msg); err != nil {
			c.log.WithField("error", err).Warn("broadcast error")
		}
	}
}
