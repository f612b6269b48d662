// Package server exposes the engine over HTTP: request submission and
// cancellation, a websocket endpoint the streaming channel connects to, the
// fallback event receiver, and event-history replay.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quill/internal/async"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/stream"
	"quill/internal/types"
)

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Addr         string   // listen address, e.g. ":8420"
	AllowOrigins []string // CORS origins; empty allows all
}

// Gateway is the HTTP and websocket front of the engine. Sockets that
// connect to /api/stream receive every event the engine publishes; envelopes
// arriving on any socket or through the fallback receiver are fanned out to
// the rest and recorded for replay.
type Gateway struct {
	cfg        GatewayConfig
	controller *pipeline.Controller
	history    *stream.EventHistory
	logger     logging.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan types.Envelope

	srv *http.Server
}

// NewGateway creates a gateway over the given controller.
func NewGateway(cfg GatewayConfig, controller *pipeline.Controller, history *stream.EventHistory, logger logging.Logger) *Gateway {
	return &Gateway{
		cfg:        cfg,
		controller: controller,
		history:    history,
		logger:     logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan types.Envelope),
	}
}

// Router builds the gin handler tree.
func (g *Gateway) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(g.cfg.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = g.cfg.AllowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", g.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/requests", g.handleSubmit)
		api.GET("/requests/:id", g.handleResult)
		api.POST("/requests/:id/cancel", g.handleCancel)
		api.GET("/requests/:id/events", g.handleReplay)
		api.GET("/stream", g.handleStream)
		api.POST("/events", g.handleFallbackEvent)
	}
	return router
}

// Start begins serving. It returns once the listener is installed; serve
// errors are logged from the background goroutine.
func (g *Gateway) Start() {
	g.srv = &http.Server{
		Addr:              g.cfg.Addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	async.Go(g.logger, "gateway-listener", func() {
		g.logger.Info("gateway listening on %s", g.cfg.Addr)
		if err := g.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway serve: %v", err)
		}
	})
}

// Shutdown stops the listener and closes all websocket connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.mu.Unlock()

	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"active":  g.controller.ActiveCount(),
		"sockets": g.connCount(),
	})
}

func (g *Gateway) handleSubmit(c *gin.Context) {
	var msg types.SubmitMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submit message: " + err.Error()})
		return
	}
	if msg.Request == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request text is required"})
		return
	}

	req, err := g.controller.Submit(msg.Request)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": req.ID, "status": "accepted"})
}

func (g *Gateway) handleResult(c *gin.Context) {
	id := c.Param("id")
	result, ok := g.controller.Result(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or still-running request"})
		return
	}

	body := gin.H{
		"request_id": result.RequestID,
		"class":      result.Class.String(),
		"status":     result.Status.String(),
		"delayed":    result.Delayed,
		"summary":    result.Summary.Preview,
	}
	if result.Err != nil {
		body["error"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (g *Gateway) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if g.controller.Cancel(id) {
		c.JSON(http.StatusOK, gin.H{"request_id": id, "status": "cancelling"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "request not running"})
}

func (g *Gateway) handleReplay(c *gin.Context) {
	id := c.Param("id")
	events, ok := g.history.Replay(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recorded events for request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": id, "events": events})
}

// handleStream upgrades to a websocket and joins the connection to the
// broadcast set. Messages read from the socket are fanned out to every other
// socket, so the engine's channel and any number of observers share one
// event bus.
func (g *Gateway) handleStream(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	out := make(chan types.Envelope, 64)
	g.mu.Lock()
	g.conns[conn] = out
	g.mu.Unlock()

	async.Go(g.logger, "gateway-socket-writer", func() {
		for env := range out {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})

	async.Go(g.logger, "gateway-socket-reader", func() {
		defer g.dropConn(conn)
		for {
			var env types.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			g.ingest(env, conn)
		}
	})
}

// handleFallbackEvent accepts one envelope over plain HTTP. It is the
// server side of the fallback transport: same wire format, same request ids,
// fanned out to the same sockets.
func (g *Gateway) handleFallbackEvent(c *gin.Context) {
	var env types.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope: " + err.Error()})
		return
	}
	if env.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "envelope type is required"})
		return
	}
	g.ingest(env, nil)
	c.Status(http.StatusNoContent)
}

// ingest records an envelope and fans it out to every socket except its
// origin.
func (g *Gateway) ingest(env types.Envelope, origin *websocket.Conn) {
	if g.history != nil {
		g.history.Record(env)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for conn, out := range g.conns {
		if conn == origin {
			continue
		}
		select {
		case out <- env:
		default:
			g.logger.Debug("socket send buffer full, dropping %s", env.Type)
		}
	}
}

func (g *Gateway) dropConn(conn *websocket.Conn) {
	g.mu.Lock()
	out, ok := g.conns[conn]
	delete(g.conns, conn)
	g.mu.Unlock()

	if ok {
		close(out)
	}
	_ = conn.Close()
}

func (g *Gateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}
