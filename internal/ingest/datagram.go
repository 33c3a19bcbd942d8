package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enslite/enslite/internal/codec"
	"github.com/enslite/enslite/internal/config"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/store"
)

// DatagramListener receives drone telemetry packets over UDP. Each packet
// is independent: decode, validate, persist, and broadcast when linked to
// an emergency event. Delivery is best-effort by nature of the transport;
// invalid packets are dropped silently.
//
// The receive loop only copies packets into a bounded queue consumed by a
// worker pool, so a slow store never blocks the socket read. When the
// queue is full the packet is dropped and counted.
type DatagramListener struct {
	cfg    config.DatagramConfig
	store  store.Store
	hub    *hub.Hub
	logger *slog.Logger

	conn    *net.UDPConn
	queue   chan packet
	dropped atomic.Int64
	running atomic.Bool
	wg      sync.WaitGroup
}

type packet struct {
	data       []byte
	receivedAt time.Time
}

// NewDatagramListener creates a datagram listener. Call Listen before Run.
func NewDatagramListener(cfg config.DatagramConfig, st store.Store, h *hub.Hub, logger *slog.Logger) *DatagramListener {
	return &DatagramListener{
		cfg:    cfg,
		store:  st,
		hub:    h,
		logger: logger,
		queue:  make(chan packet, cfg.QueueSize),
	}
}

// Listen binds the UDP socket. A bind failure here is fatal to the whole
// process.
func (l *DatagramListener) Listen() error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve datagram address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind datagram listener on %s: %w", addr, err)
	}
	l.conn = conn
	l.logger.Info("Datagram listener started", "addr", addr, "workers", l.cfg.WorkerCount)
	return nil
}

// Addr returns the bound socket address, valid after Listen.
func (l *DatagramListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run starts the worker pool and receives packets until Close is called.
func (l *DatagramListener) Run(ctx context.Context) error {
	l.running.Store(true)

	for i := 0; i < l.cfg.WorkerCount; i++ {
		l.wg.Add(1)
		go l.worker(ctx)
	}

	buf := make([]byte, l.cfg.ReadBufferSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if !l.running.Load() || ctx.Err() != nil {
				break
			}
			l.logger.Error("Datagram read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case l.queue <- packet{data: data, receivedAt: time.Now().UTC()}:
		default:
			if dropped := l.dropped.Add(1); dropped%100 == 1 {
				l.logger.Warn("Telemetry queue full, dropping packets", "dropped_total", dropped)
			}
		}
	}

	l.wg.Wait()
	return nil
}

// Close flips the running flag and closes the socket, which unblocks any
// pending read.
func (l *DatagramListener) Close() {
	l.running.Store(false)
	if l.conn != nil {
		l.conn.Close()
	}
}

func (l *DatagramListener) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case pkt := <-l.queue:
			l.process(ctx, pkt)
		case <-ctx.Done():
			return
		}
	}
}

func (l *DatagramListener) process(ctx context.Context, pkt packet) {
	rec, err := codec.DecodeTelemetry(pkt.data, pkt.receivedAt)
	if err != nil {
		// No reply is possible on this transport: drop and move on.
		l.logger.Debug("Dropping invalid telemetry packet", "error", err)
		return
	}

	stored, err := l.store.CreateTelemetry(ctx, rec)
	if err != nil {
		l.logger.Error("Telemetry persist failed", "drone_id", rec.DroneID, "error", err)
		return
	}

	// Broadcast only validated, persisted records carrying an event link.
	if stored.RelatedEventID != nil {
		if err := l.hub.PublishTelemetry(ctx, stored); err != nil {
			l.logger.Error("Telemetry broadcast failed", "drone_id", stored.DroneID, "error", err)
		}
	}

	l.logger.Debug("Telemetry received", "drone_id", stored.DroneID, "status", stored.Status)
}
