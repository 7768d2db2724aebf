// Package mudserver implements the TCP listener/accept loop and server
// lifecycle (spec §4.9, C9): one listener per configured port, a
// connection registry, the start-time precompile phase over the Void
// room's contents, and a root-cancellation-token shutdown.
//
// The goroutine+context lifecycle (construct with a root cancellation
// source, launch background watchers, rebuild a fresh source on restart)
// follows core.Engine's construction/teardown idiom; accepting TCP
// connections has no ecosystem library worth depending on beyond that,
// so the listener itself is built directly on net/context (the one
// legitimate bare-stdlib component of this module).
package mudserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/script"
	"github.com/mudpienet/mudpie/internal/session"
	"github.com/mudpienet/mudpie/internal/world"
)

// precompileTimeout bounds the start-time precompile walk (spec §4.9).
const precompileTimeout = 60 * time.Second

// worldEngine adapts *world.World and *script.Engine together to satisfy
// session.World; object operations and program execution are separate
// concerns that the connection layer only needs behind one seam.
type worldEngine struct {
	*world.World
	engine *script.Engine
}

func (we *worldEngine) RunProgram(ctx context.Context, programRef dbref.DbRef, authenticated bool, globals script.Globals, onOutputLine func(string)) *script.Context {
	return we.engine.RunProgram(ctx, programRef, authenticated, globals, onOutputLine)
}

// Server owns the listeners, the connection registry and the root
// cancellation token described in spec §4.9 and §5.
type Server struct {
	ports  []int
	we     *worldEngine
	logger *zap.Logger

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*session.Connection]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Server that will listen on ports once Start is called.
func New(ports []int, w *world.World, engine *script.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ports:  ports,
		we:     &worldEngine{World: w, engine: engine},
		logger: logger,
		conns:  make(map[*session.Connection]struct{}),
	}
}

// Start implements spec §4.9: precompile, then open a listener per port
// with net.Listen and begin accepting. The accept backlog is the
// operating system's default; Start does not set it.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	rootCtx := s.ctx
	s.mu.Unlock()

	precompileCtx, cancelPrecompile := context.WithTimeout(rootCtx, precompileTimeout)
	defer cancelPrecompile()
	if err := s.precompile(precompileCtx); err != nil {
		s.logger.Warn("precompile phase did not finish cleanly", zap.Error(err))
	}

	for _, port := range s.ports {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", port, err)
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.acceptLoop(rootCtx, ln)
	}
	return nil
}

// acceptLoop accepts connections on ln until rootCtx is cancelled or the
// listener is closed (spec §4.9: "on each accept, construct a
// Connection, register it, and launch its reader task").
func (s *Server) acceptLoop(rootCtx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-rootCtx.Done():
				return
			default:
				s.logger.Debug("accept error", zap.Error(err))
				return
			}
		}

		c := session.New(conn, s.we, s.logger)
		s.register(c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.deregister(c)
			c.Serve(rootCtx)
		}()
	}
}

func (s *Server) register(c *session.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) deregister(c *session.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// precompile walks the Void room's direct contents, loading each link's
// target program and forcing compilation (spec §4.9). Failure is logged,
// never fatal.
func (s *Server) precompile(ctx context.Context) error {
	void, err := s.we.Get(ctx, dbref.Void)
	if err != nil {
		s.logger.Warn("precompile: could not load Void", zap.Error(err))
		return nil
	}

	for _, childRef := range void.Base().Contents {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		child, err := s.we.Get(ctx, childRef)
		if err != nil {
			s.logger.Warn("precompile: could not load Void content", zap.String("ref", childRef.String()), zap.Error(err))
			continue
		}
		link, ok := child.(*model.Link)
		if !ok {
			continue
		}
		targetRef, isProgram, err := s.we.LinkTarget(ctx, link.Ref())
		if err != nil || !isProgram {
			continue
		}
		program, err := s.we.Get(ctx, targetRef)
		if err != nil {
			s.logger.Warn("precompile: could not load program", zap.String("ref", targetRef.String()), zap.Error(err))
			continue
		}
		p, ok := program.(*model.Program)
		if !ok {
			continue
		}
		if err := s.we.engine.Precompile(ctx, p.Ref()); err != nil {
			s.logger.Warn("precompile: program failed to compile", zap.String("ref", targetRef.String()), zap.Error(err))
		}
	}
	return nil
}

// Stop implements spec §4.9: cancel the root token, close listeners,
// drain connections and wait for everything to unwind. The next Start
// builds a fresh cancellation source of its own.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, ln := range listeners {
		ln.Close()
	}
	s.wg.Wait()
}
