package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"studyportal/internal/domain"
	"studyportal/internal/usecase"
)

// ChatHandler processes one user turn. It is implemented by the router.
type ChatHandler interface {
	Handle(ctx context.Context, in usecase.Inbound) (usecase.Outbound, error)
	HandleClear(ctx context.Context, userID string) (usecase.Outbound, error)
}

// Options tunes the gateway transport.
type Options struct {
	RatePerSecond float64 // inbound frames per second per connection
	RateBurst     int
	SendQueue     int           // per-client outbound buffer
	WriteWait     time.Duration // per-frame write deadline
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	limiter   *rate.Limiter
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the WebSocket gateway that carries the chat protocol and
// forwards bus events to connected clients.
type Server struct {
	handler   ChatHandler
	bus       domain.EventBus
	auth      Authenticator // nil means identity comes from query params
	clients   sync.Map      // connID (uint64) -> *clientConn
	logger    *slog.Logger
	addr      string
	opts      Options
	httpSrv   *http.Server
	boundAddr string
	nextID    atomic.Uint64
	unsubAll  func()
}

// NewServer creates a gateway server. A nil auth accepts user_id and
// role query parameters instead, for local development.
func NewServer(handler ChatHandler, bus domain.EventBus, auth Authenticator, addr string, opts Options, logger *slog.Logger) *Server {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &Server{
		handler: handler,
		bus:     bus,
		auth:    auth,
		logger:  logger,
		addr:    addr,
		opts:    opts,
	}
}

// Start begins accepting WebSocket connections. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{Handler: mux}

	// Forward bus events to each client that owns the conversation.
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			frame := Frame{Type: FrameTypeEvent, Payload: payload}
			s.clients.Range(func(_, value any) bool {
				cc := value.(*clientConn)
				if event.UserID != "" && event.UserID != cc.info.UserID {
					return true
				}
				s.send(cc, frame)
				return true
			})
		})
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:    info,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(s.opts.RatePerSecond), s.opts.RateBurst),
		sendCh:  make(chan Frame, s.opts.SendQueue),
		done:    make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected", "conn_id", connID, "user_id", info.UserID, "role", info.Role)

	go s.writeLoop(cc)

	s.send(cc, Frame{Type: FrameTypeConnected, Text: info.UserID})

	// Read loop (blocking).
	s.readLoop(r.Context(), cc)

	// Cleanup.
	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

// identify resolves the connecting client to a user identity. With an
// authenticator, the token query param decides; without one, user_id and
// role query params are trusted as-is.
func (s *Server) identify(r *http.Request) (*ClientInfo, error) {
	if s.auth != nil {
		return s.auth.Authenticate(r.URL.Query().Get("token"))
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	return &ClientInfo{
		UserID: userID,
		Role:   normalizeRole(r.URL.Query().Get("role")),
	}, nil
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return // connection closed or error
		}

		switch frame.Type {
		case FrameTypeConnect:
			// Identity is established at upgrade time; re-ack for
			// clients that send an explicit hello.
			s.send(cc, Frame{Type: FrameTypeConnected, ID: frame.ID, Text: cc.info.UserID})
			continue
		case FrameTypeMessage, FrameTypeClear:
		default:
			s.sendError(cc, frame.ID, domain.NewDomainError("Gateway.read", domain.ErrBadFrame, string(frame.Type)))
			continue
		}

		if !cc.limiter.Allow() {
			s.sendError(cc, frame.ID, fmt.Errorf("%w: slow down", domain.ErrRateLimit))
			continue
		}

		go s.dispatch(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteWait)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// dispatch runs one turn and sends exactly one terminal frame for it.
// Message frames first get a non-terminal processing frame since agent
// turns can take several seconds.
func (s *Server) dispatch(ctx context.Context, cc *clientConn, req Frame) {
	var out usecase.Outbound
	var err error

	switch req.Type {
	case FrameTypeClear:
		out, err = s.handler.HandleClear(ctx, cc.info.UserID)
	default:
		s.send(cc, Frame{Type: FrameTypeProcessing, ID: req.ID})
		out, err = s.handler.Handle(ctx, usecase.Inbound{
			UserID:  cc.info.UserID,
			Role:    cc.info.Role,
			Message: req.Text,
		})
	}

	if err != nil {
		s.sendError(cc, req.ID, err)
		return
	}

	s.send(cc, Frame{
		Type:               FrameTypeResponse,
		ID:                 req.ID,
		Text:               out.Text,
		AgentID:            out.AgentID,
		AwaitingParameters: out.AwaitingParameters,
	})
}

func (s *Server) sendError(cc *clientConn, id uint64, err error) {
	msg := "Something went wrong handling that message. Please try again."
	if errors.Is(err, domain.ErrRateLimit) {
		msg = "You're sending messages too quickly. Please wait a moment."
	} else if errors.Is(err, domain.ErrBadFrame) {
		msg = "Unrecognized frame type."
	}
	s.send(cc, Frame{
		Type:  FrameTypeError,
		ID:    id,
		Error: msg,
		Code:  string(domain.ErrorCodeOf(err)),
	})
}

func (s *Server) send(cc *clientConn, frame Frame) {
	frame.Timestamp = time.Now().Unix()
	select {
	case cc.sendCh <- frame:
	default:
		s.logger.Warn("gateway: dropped frame for slow client", "frame_id", frame.ID)
	}
}
