package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/enslite/enslite/internal/bus"
	"github.com/enslite/enslite/internal/config"
	"github.com/enslite/enslite/internal/hub"
	"github.com/enslite/enslite/internal/store"
)

func newSupervisor(t *testing.T) (*Supervisor, *StreamListener, *DatagramListener) {
	t.Helper()

	mem := store.NewMemory()
	b := bus.NewInProcess(64)
	broadcastHub := hub.New(b, mem, slog.Default())
	reg := NewRegistry()
	logger := slog.Default()

	stream := NewStreamListener(config.StreamConfig{
		Host: "127.0.0.1", Port: 0, ReadBufferSize: 4096, MaxSessions: 4,
	}, mem, broadcastHub, reg, logger)
	datagram := NewDatagramListener(config.DatagramConfig{
		Host: "127.0.0.1", Port: 0, ReadBufferSize: 4096, WorkerCount: 2, QueueSize: 16,
	}, mem, broadcastHub, logger)

	t.Cleanup(func() { b.Close() })

	return NewSupervisor(stream, datagram, reg, logger), stream, datagram
}

func TestSupervisorStartStop(t *testing.T) {
	sup, stream, datagram := newSupervisor(t)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Both sockets accept traffic while running.
	conn, err := net.Dial("tcp", stream.Addr().String())
	if err != nil {
		t.Fatalf("stream unreachable: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var handshake map[string]any
	if err := json.NewDecoder(conn).Decode(&handshake); err != nil {
		t.Fatalf("no handshake: %v", err)
	}

	udp, err := net.Dial("udp", datagram.Addr().String())
	if err != nil {
		t.Fatalf("datagram unreachable: %v", err)
	}
	udp.Close()

	// Stop returns and tears the live session down with it.
	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Error("session connection still open after Stop")
	}
	conn.Close()

	// The listening socket is released.
	if c, err := net.DialTimeout("tcp", stream.Addr().String(), 500*time.Millisecond); err == nil {
		c.Close()
		t.Error("stream socket still accepting after Stop")
	}
}

func TestSupervisorDatagramBindFailure(t *testing.T) {
	mem := store.NewMemory()
	b := bus.NewInProcess(64)
	defer b.Close()
	broadcastHub := hub.New(b, mem, slog.Default())
	reg := NewRegistry()
	logger := slog.Default()

	// Occupy a UDP port so the datagram bind fails.
	blocker, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind blocker: %v", err)
	}
	defer blocker.Close()
	port := blocker.LocalAddr().(*net.UDPAddr).Port

	stream := NewStreamListener(config.StreamConfig{
		Host: "127.0.0.1", Port: 0, ReadBufferSize: 4096, MaxSessions: 4,
	}, mem, broadcastHub, reg, logger)
	datagram := NewDatagramListener(config.DatagramConfig{
		Host: "127.0.0.1", Port: port, ReadBufferSize: 4096, WorkerCount: 2, QueueSize: 16,
	}, mem, broadcastHub, logger)

	sup := NewSupervisor(stream, datagram, reg, logger)
	if err := sup.Start(context.Background()); err == nil {
		sup.Stop()
		t.Fatal("Start succeeded despite occupied datagram port")
	}

	// The stream socket opened first must have been released again.
	if stream.Addr() != nil {
		if c, err := net.DialTimeout("tcp", stream.Addr().String(), 500*time.Millisecond); err == nil {
			c.Close()
			t.Error("stream socket leaked after failed start")
		}
	}
}
