// Package terminal is the ingress channel for physical card terminals: a
// raw TCP listener speaking the newline-framed text protocol. Every frame
// funnels into the same pipeline as the web channel.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Processor is the pipeline surface the terminal channel needs.
type Processor interface {
	ProcessWire(ctx context.Context, raw []byte) []byte
}

// Server accepts terminal connections and processes one frame per line.
// Connections are handled concurrently; frames on one connection are
// processed in order.
type Server struct {
	Addr      string
	Processor Processor
	Logger    *slog.Logger

	// ReadTimeout bounds the wait for the next frame on an idle
	// connection. Zero means no idle timeout.
	ReadTimeout time.Duration
	// Allowed restricts accepting networks when non-nil. Checked with
	// security.AllowedAddr by the caller wiring; kept as a func so the
	// server does not depend on the policy's shape.
	Allowed func(remoteAddr string) bool

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// maxFrameBytes caps a single terminal frame. Well-formed authorization
// frames are far smaller; anything bigger is garbage.
const maxFrameBytes = 4096

// Listen binds the listener so the port is open before Serve is called.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// BoundAddr returns the bound address, useful when Addr was ":0".
func (s *Server) BoundAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until the listener is closed or ctx is
// cancelled. A failure on one connection never stops the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.Logger.Info("terminal listener started", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.Logger.Warn("accept failed", "error", err)
			continue
		}

		if s.Allowed != nil && !s.Allowed(conn.RemoteAddr().String()) {
			s.Logger.Warn("connection refused by allowlist", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Shutdown closes the listener and waits for in-flight connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	// A panic on one connection must not take down the listener.
	defer func() {
		if rec := recover(); rec != nil {
			s.Logger.Error("panic in terminal connection", "remote", remote, "panic", rec)
		}
	}()

	s.Logger.Info("terminal connected", "remote", remote)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxFrameBytes), maxFrameBytes)

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.Logger.Warn("terminal read failed", "remote", remote, "error", err)
			}
			return
		}

		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}

		reply := s.Processor.ProcessWire(ctx, frame)
		if _, err := conn.Write(append(reply, '\n')); err != nil {
			// The pipeline already completed settlement and the ledger
			// append; losing the reply write is the terminal's problem.
			s.Logger.Warn("terminal write failed", "remote", remote, "error", err)
			return
		}
	}
}
