package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/engine"
	"github.com/dshills/tandem/internal/engine/clock"
	"github.com/dshills/tandem/internal/engine/oplog"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/logging"
)

// VersionHeader carries the version vector of a served snapshot.
const VersionHeader = "X-Tandem-Version"

// Server hosts documents over HTTP and websockets.
//
// Routes:
//
//	GET /healthz                     liveness and document count
//	GET /documents/:id/snapshot      full replicated state
//	GET /documents/:id/ops?since=vv  logged operations not covered by vv
//	GET /documents/:id/ws            websocket session
type Server struct {
	cfg      config.ServerConfig
	logger   *logging.Logger
	relay    Relay
	alloc    ReplicaAllocator
	admit    Admitter
	router   *gin.Engine
	upgrader websocket.Upgrader

	engineOpts []engine.Option

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	hubs map[string]*Hub
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRelay shares every document with other server instances.
func WithRelay(r Relay) ServerOption {
	return func(s *Server) {
		s.relay = r
	}
}

// WithAdmitter vets every batch peers send with a.
func WithAdmitter(a Admitter) ServerOption {
	return func(s *Server) {
		s.admit = a
	}
}

// WithReplicaAllocator sets where hubs get replica ids from.
func WithReplicaAllocator(a ReplicaAllocator) ServerOption {
	return func(s *Server) {
		if a != nil {
			s.alloc = a
		}
	}
}

// NewServer creates a server from cfg.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg.Server,
		logger: logging.NewNull(),
		alloc:  newLocalAllocator(),
		hubs:   make(map[string]*Hub),
		engineOpts: []engine.Option{
			engine.WithTabWidth(cfg.Replica.TabWidth),
			engine.WithLineEnding(cfg.LineEnding()),
		},
	}
	if cfg.Replica.ConsistencyChecks {
		s.engineOpts = append(s.engineOpts, engine.WithConsistencyChecks())
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("transport")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)
	docs := r.Group("/documents/:id")
	{
		docs.GET("/snapshot", s.handleSnapshot)
		docs.GET("/ops", s.handleOps)
		docs.GET("/ws", s.handleWebsocket)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the hub for docID, creating it on first use.
func (s *Server) Hub(docID string) (*Hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[docID]; ok {
		return h, nil
	}
	if s.ctx.Err() != nil {
		return nil, ErrHubClosed
	}
	opts := []HubOption{
		WithHubLogger(s.logger),
		WithAllocator(s.alloc),
		WithSendQueue(s.cfg.SendQueue),
	}
	if s.relay != nil {
		opts = append(opts, WithHubRelay(s.relay))
	}
	if s.admit != nil {
		opts = append(opts, WithHubAdmitter(s.admit))
	}
	// The subscription outlives the request that created the hub.
	h, err := NewHub(s.ctx, docID, s.engineOpts, opts...)
	if err != nil {
		return nil, err
	}
	s.hubs[docID] = h
	s.logger.Info("opened document %s", docID)
	return h, nil
}

// DocumentCount returns the number of open documents.
func (s *Server) DocumentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hubs)
}

// Run serves on the configured address until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		s.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close closes every hub, disconnecting all peers.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	hubs := make([]*Hub, 0, len(s.hubs))
	for _, h := range s.hubs {
		hubs = append(hubs, h)
	}
	clear(s.hubs)
	s.mu.Unlock()

	for _, h := range hubs {
		if err := h.Close(); err != nil {
			s.logger.Warn("close %s: %v", h.DocID(), err)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"documents": s.DocumentCount(),
	})
}

func (s *Server) hub(c *gin.Context) (*Hub, bool) {
	h, err := s.Hub(c.Param("id"))
	if err != nil {
		s.logger.Error("open document %s: %v", c.Param("id"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return nil, false
	}
	return h, true
}

func (s *Server) handleSnapshot(c *gin.Context) {
	h, ok := s.hub(c)
	if !ok {
		return
	}
	snap := h.Engine().Snapshot()
	data, err := snap.MarshalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	version, err := json.Marshal(snap.Version())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header(VersionHeader, string(version))
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleOps(c *gin.Context) {
	since := clock.NewGlobal()
	if raw := c.Query("since"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &since); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since: %v", err)})
			return
		}
	}
	h, ok := s.hub(c)
	if !ok {
		return
	}
	ops, err := h.Engine().OpsSince(since)
	switch {
	case errors.Is(err, oplog.ErrCompacted):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := operation.MarshalBatch(ops)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	h, ok := s.hub(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	s.serveConn(c.Request.Context(), h, conn)
}

func (s *Server) serveConn(ctx context.Context, h *Hub, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	p, welcome, err := h.Join(ctx)
	if err != nil {
		s.logger.Warn("join %s: %v", h.DocID(), err)
		_ = s.write(conn, errorMessage(err))
		return
	}
	defer h.Leave(p)

	log := s.logger.WithFields(map[string]any{
		"doc":     h.DocID(),
		"peer":    p.ID,
		"replica": p.Replica,
	})
	if err := s.write(conn, welcome); err != nil {
		log.Warn("send welcome: %v", err)
		return
	}
	log.Info("peer connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(h, p, conn) })
	g.Go(func() error { return s.writeLoop(gctx, p, conn) })
	if err := g.Wait(); err != nil && !isClosure(err) {
		log.Warn("connection ended: %v", err)
		return
	}
	log.Info("peer disconnected")
}

func (s *Server) readLoop(h *Hub, p *Peer, conn *websocket.Conn) error {
	wait := 2 * s.cfg.PingInterval.Duration
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		switch msg.Type {
		case TypeOps:
			err := h.Receive(context.Background(), p, msg.Ops)
			if err == nil {
				continue
			}
			h.SendTo(p, errorMessage(err))
			if errors.Is(err, ErrRejected) {
				h.Leave(p)
				return err
			}
		default:
			h.SendTo(p, errorMessage(fmt.Errorf("%w: %q", ErrUnexpectedMessage, msg.Type)))
		}
	}
}

// writeLoop owns all data writes to conn. It closes conn when it stops,
// which unblocks readLoop.
func (s *Server) writeLoop(ctx context.Context, p *Peer, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.cfg.PingInterval.Duration)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
			s.drain(p, conn)
			deadline := time.Now().Add(s.cfg.WriteTimeout.Duration)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "disconnected"), deadline)
			return nil
		case msg := <-p.Send():
			if err := s.write(conn, msg); err != nil {
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout.Duration)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

// drain writes whatever is still queued for a dropped peer, such as the
// error that explains why.
func (s *Server) drain(p *Peer, conn *websocket.Conn) {
	for {
		select {
		case msg := <-p.Send():
			if s.write(conn, msg) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout.Duration))
	return conn.WriteJSON(msg)
}

func isClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
