package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"sidecar/channel"
	"sidecar/cmd"
	"sidecar/internal/config"
	"sidecar/internal/logging"
	"sidecar/plugin"
)

// init registers the REST API channel
func init() {
	channel.Register(NewRESTChannel())
}

// host is the slice of the daemon surface the REST API needs, looked up
// from the context so the channel never imports the daemon package
type host interface {
	GetStatus(ctx context.Context) string
	TriggerReload(ctx context.Context, reason string) plugin.Result
	CallGateway(ctx context.Context, method string, params map[string]interface{}) (interface{}, error)
}

// RESTChannel provides REST API integration
type RESTChannel struct {
	broker    channel.MessageBroker
	router    *cmd.Router
	ctx       context.Context
	server    *http.Server
	authToken string
	log       logrus.FieldLogger
}

// CommandRequest represents a command request
type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// CommandResponse represents a command response
type CommandResponse struct {
	Success bool        `json:"success"`
	Output  string      `json:"output,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GatewayRequest represents a gateway method invocation
type GatewayRequest struct {
	Params map[string]interface{} `json:"params,omitempty"`
}

// StatusResponse represents a status response
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewRESTChannel creates a new REST API channel
func NewRESTChannel() *RESTChannel {
	return &RESTChannel{
		log: logging.Subsystem("rest"),
	}
}

// Name returns the channel name
func (c *RESTChannel) Name() string {
	return "rest"
}

// CheckRequirements validates channel requirements
func (c *RESTChannel) CheckRequirements(ctx context.Context) error {
	checker := plugin.NewRequirementChecker("rest", c.log)

	// Require daemon mode
	checker.AddRequired(
		"daemon_mode",
		"REST API requires daemon mode",
		plugin.RequireMode(config.ModeDaemon),
	)

	return checker.Check(ctx)
}

// Start initializes the REST API server
func (c *RESTChannel) Start(ctx context.Context, broker channel.MessageBroker) error {
	c.broker = broker
	c.ctx = ctx
	c.router = cmd.NewRouter()

	// Get configuration
	port := 8081
	host := "0.0.0.0"

	if cfg, ok := ctx.Value("config").(*config.Config); ok {
		if portVal, ok := cfg.GetChannelSettingInt("rest", "port"); ok {
			port = portVal
		}
		if hostVal, ok := cfg.GetChannelSettingString("rest", "host"); ok {
			host = hostVal
		}
		if token, ok := cfg.GetChannelSettingString("rest", "auth_token"); ok {
			c.authToken = token
		}
	}

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/command", c.authMiddleware(c.handleCommand))
	mux.HandleFunc("/api/status", c.authMiddleware(c.handleStatus))
	mux.HandleFunc("/api/plugins", c.authMiddleware(c.handlePlugins))
	mux.HandleFunc("/api/reload", c.authMiddleware(c.handleReload))
	mux.HandleFunc("/api/gateway/", c.authMiddleware(c.handleGateway))
	mux.HandleFunc("/api/health", c.handleHealth)

	c.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}

	// Start server
	go func() {
		c.log.WithField("addr", c.server.Addr).Info("starting server")
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.WithField("error", err).Error("server error")
		}
	}()

	return nil
}

// Stop shuts down the REST API server
func (c *RESTChannel) Stop(ctx context.Context) error {
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			c.log.WithField("error", err).Error("error shutting down server")
		}
	}

	c.log.Info("stopped")
	return nil
}

// authMiddleware adds optional authentication
func (c *RESTChannel) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If auth token is configured, check it
		if c.authToken != "" {
			token := r.Header.Get("Authorization")
			expectedToken := "Bearer " + c.authToken

			if token != expectedToken {
				c.sendError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
		}

		next(w, r)
	}
}

// handleCommand processes command requests
func (c *RESTChannel) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Parse request
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	input := req.Command
	if len(req.Args) > 0 {
		input = input + " " + strings.Join(req.Args, " ")
	}

	c.log.WithField("command", req.Command).Debug("command request")

	// Execute command
	result, err := c.router.Route(c.ctx, input)
	if err != nil {
		c.sendJSON(w, CommandResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	// Send response
	response := CommandResponse{
		Success: true,
	}

	if result != nil {
		response.Output = result.Output
		response.Data = result.Data

		// Broadcast if requested
		if result.Broadcast {
			c.broker.Publish(c.ctx, channel.Message{
				Topic:   "notification",
				Payload: result.Output,
				Source:  "rest",
			})
		}
	}

	c.sendJSON(w, response)
}

// handleStatus returns daemon status
func (c *RESTChannel) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		c.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var statusText string
	if d, ok := c.ctx.Value("daemon").(host); ok {
		statusText = d.GetStatus(c.ctx)
	} else {
		statusText = "Status not available"
	}

	c.sendJSON(w, StatusResponse{
		Status:  "ok",
		Message: statusText,
	})
}

// handlePlugins lists the currently live plugin set
func (c *RESTChannel) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		c.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reg := plugin.Active()
	type pluginInfo struct {
		ID      string `json:"id"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	}

	plugins := reg.Plugins()
	out := make([]pluginInfo, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, pluginInfo{
			ID:      p.ID,
			Version: p.Version,
			Status:  string(p.Status),
			Error:   p.Err,
		})
	}

	c.sendJSON(w, map[string]interface{}{
		"registry": reg.Generation(),
		"plugins":  out,
	})
}

// handleReload triggers a plugin reload
func (c *RESTChannel) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	d, ok := c.ctx.Value("daemon").(host)
	if !ok {
		c.sendError(w, http.StatusServiceUnavailable, "Daemon not available")
		return
	}

	res := d.TriggerReload(c.ctx, "rest api")
	out := map[string]interface{}{
		"ok":          res.OK,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.OK {
		out["plugins"] = res.PluginCount
		out["hooks"] = res.HookCount
	} else {
		out["error"] = res.Err
	}

	c.sendJSON(w, out)
}

// handleGateway invokes a gateway method by path: /api/gateway/<method>
func (c *RESTChannel) handleGateway(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	method := strings.TrimPrefix(r.URL.Path, "/api/gateway/")
	if method == "" {
		c.sendError(w, http.StatusBadRequest, "Missing gateway method")
		return
	}

	d, ok := c.ctx.Value("daemon").(host)
	if !ok {
		c.sendError(w, http.StatusServiceUnavailable, "Daemon not available")
		return
	}

	var req GatewayRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			c.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := d.CallGateway(c.ctx, method, req.Params)
	if err != nil {
		c.sendJSON(w, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.sendJSON(w, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// handleHealth returns health check
func (c *RESTChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	c.sendJSON(w, map[string]string{
		"status": "healthy",
	})
}

// sendJSON sends a JSON response
func (c *RESTChannel) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.log.WithField("error", err).Error("error encoding response")
	}
}

// sendError sends an error response
func (c *RESTChannel) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
