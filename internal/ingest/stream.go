package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/enslite/enslite/internal/codec"
	"github.com/enslite/enslite/internal/config"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/models"
	"github.com/enslite/enslite/internal/store"
)

// StreamListener accepts TCP connections from reporting agents and owns
// the per-session lifecycle. One goroutine per accepted connection, with
// an explicit admission bound.
type StreamListener struct {
	cfg      config.StreamConfig
	store    store.Store
	hub      *hub.Hub
	registry *Registry
	logger   *slog.Logger

	ln      net.Listener
	running atomic.Bool
}

// NewStreamListener creates a stream listener. Call Listen before Run.
func NewStreamListener(cfg config.StreamConfig, st store.Store, h *hub.Hub, reg *Registry, logger *slog.Logger) *StreamListener {
	return &StreamListener{
		cfg:      cfg,
		store:    st,
		hub:      h,
		registry: reg,
		logger:   logger,
	}
}

// Listen binds the listening socket. A bind failure here is fatal to the
// whole process.
func (l *StreamListener) Listen() error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind stream listener on %s: %w", addr, err)
	}
	l.ln = ln
	l.logger.Info("Stream listener started", "addr", addr)
	return nil
}

// Addr returns the bound listen address, valid after Listen.
func (l *StreamListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Run accepts connections until Close is called or ctx is canceled.
func (l *StreamListener) Run(ctx context.Context) error {
	l.running.Store(true)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !l.running.Load() || ctx.Err() != nil {
				return nil
			}
			l.logger.Error("Stream accept failed", "error", err)
			continue
		}

		if l.registry.Len() >= l.cfg.MaxSessions {
			l.logger.Warn("Rejecting connection, session limit reached",
				"remote", conn.RemoteAddr().String(),
				"max_sessions", l.cfg.MaxSessions,
			)
			conn.Write(codec.EncodeError("server at capacity"))
			conn.Close()
			continue
		}

		session := &Session{ID: uuid.New().String(), conn: conn}
		l.registry.Add(session)
		go l.handle(ctx, session)
	}
}

// Close flips the running flag and closes the listening socket, which
// unblocks any pending Accept.
func (l *StreamListener) Close() {
	l.running.Store(false)
	if l.ln != nil {
		l.ln.Close()
	}
}

// handle runs one session from handshake to disconnect. The session is
// deregistered exactly once when the read loop ends.
func (l *StreamListener) handle(ctx context.Context, s *Session) {
	remote := s.conn.RemoteAddr().String()
	l.logger.Info("Client connected", "remote", remote, "session_id", s.ID)

	defer func() {
		s.Stop()
		l.registry.Remove(s.ID)
		l.logger.Info("Client disconnected", "remote", remote, "session_id", s.ID)
	}()

	if _, err := s.conn.Write(codec.EncodeHandshake(s.ID)); err != nil {
		l.logger.Error("Handshake write failed", "session_id", s.ID, "error", err)
		return
	}

	// One message per read up to the buffer size; the protocol carries
	// no framing (see codec package doc).
	buf := make([]byte, l.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil || n == 0 {
			return
		}
		l.dispatch(ctx, s, buf[:n])
	}
}

// dispatch processes one decoded payload. Only transport-level failures
// end a session; every processing error is answered and the loop goes on.
func (l *StreamListener) dispatch(ctx context.Context, s *Session, payload []byte) {
	msg, err := codec.DecodeInbound(payload)
	if err != nil {
		l.logger.Warn("Discarding malformed payload", "session_id", s.ID, "error", err)
		return
	}

	switch msg.Type {
	case codec.TypeEmergencyAlert:
		l.handleAlert(ctx, s, msg.Data)
	case codec.TypeHeartbeat:
		s.conn.Write(codec.EncodeOK())
	default:
		s.conn.Write(codec.EncodeError(fmt.Sprintf("unknown message type: %q", msg.Type)))
	}
}

func (l *StreamListener) handleAlert(ctx context.Context, s *Session, data codec.AlertData) {
	eventType, err := l.store.FindOrCreateEventType(ctx, data.EventType)
	if err != nil {
		l.logger.Error("Event type lookup failed", "session_id", s.ID, "event_type", data.EventType, "error", err)
		s.conn.Write(codec.EncodeError("failed to create alert"))
		return
	}

	event, err := l.store.CreateEvent(ctx, models.EmergencyEvent{
		Title:         data.Title,
		Description:   data.Description,
		EventTypeID:   eventType.ID,
		EventTypeName: eventType.Name,
		Location:      data.Location,
		Severity:      data.Severity,
		IsActive:      true,
	})
	if err != nil {
		l.logger.Error("Event create failed", "session_id", s.ID, "title", data.Title, "error", err)
		s.conn.Write(codec.EncodeError("failed to create alert"))
		return
	}

	// Broadcast only after the store write is acknowledged.
	if err := l.hub.PublishEvent(ctx, event); err != nil {
		l.logger.Error("Event broadcast failed", "event_id", event.ID, "error", err)
	}

	if _, err := s.conn.Write(codec.EncodeSuccess(event.ID)); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logger.Warn("Ack write failed", "session_id", s.ID, "event_id", event.ID, "error", err)
	}

	l.logger.Info("Alert created", "event_id", event.ID, "title", event.Title, "severity", event.Severity)
}
