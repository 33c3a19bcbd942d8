package ingest

import (
	"context"
	"log/slog"
	"sync"
)

// Supervisor starts and stops both ingest listeners as a unit.
type Supervisor struct {
	stream   *StreamListener
	datagram *DatagramListener
	registry *Registry
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor wires the listeners under one lifecycle.
func NewSupervisor(stream *StreamListener, datagram *DatagramListener, reg *Registry, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		stream:   stream,
		datagram: datagram,
		registry: reg,
		logger:   logger,
	}
}

// Start binds both listening sockets and launches their loops. Any bind
// failure aborts startup and is fatal to the caller.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.stream.Listen(); err != nil {
		return err
	}
	if err := s.datagram.Listen(); err != nil {
		s.stream.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.stream.Run(runCtx); err != nil {
			s.logger.Error("Stream listener stopped with error", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.datagram.Run(runCtx); err != nil {
			s.logger.Error("Datagram listener stopped with error", "error", err)
		}
	}()

	return nil
}

// Stop closes both listening sockets, cancels the run context and
// signals every live session to stop. Session handler goroutines are not
// waited on; shutdown does not guarantee full session drain.
func (s *Supervisor) Stop() {
	s.logger.Info("Stopping ingest listeners")

	if s.cancel != nil {
		s.cancel()
	}
	s.stream.Close()
	s.datagram.Close()

	s.registry.StopAll()
	s.wg.Wait()

	s.logger.Info("Ingest listeners stopped")
}
