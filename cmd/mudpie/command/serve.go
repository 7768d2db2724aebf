package command

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mudpienet/mudpie/internal/compcache"
	"github.com/mudpienet/mudpie/internal/config"
	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/mudserver"
	"github.com/mudpienet/mudpie/internal/script"
	"github.com/mudpienet/mudpie/internal/store"
	"github.com/mudpienet/mudpie/internal/telemetry"
	"github.com/mudpienet/mudpie/internal/world"
)

const cacheSize = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configured world and start listening",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ports, err := portNumbers(cfg.Ports)
	if err != nil {
		return err
	}

	s, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	cache := compcache.New(cfg.CacheTTL, cacheSize)
	w := world.New("mudpie", s, cache)

	if err := ensureVoid(cmd.Context(), w); err != nil {
		return fmt.Errorf("bootstrap void: %w", err)
	}

	engine := script.New(programLoader(w), script.EchoCompiler{}, script.EchoRunner{})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := config.SeedPrograms(ctx, cfg.ProgramDirs, w, engine, logger); err != nil {
		logger.Warn("initial seed failed", zap.Error(err))
	}
	watcher, err := config.WatchProgramDirs(ctx, cfg.ProgramDirs, w, engine, logger)
	if err != nil {
		logger.Warn("program directory watch disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	srv := mudserver.New(ports, w, engine, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	logger.Info("mudpie listening", zap.Ints("ports", ports))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return nil
}

// portNumbers extracts the numeric port from each configured address
// ("host:port" or ":port"), since mudserver.Server listens per port.
func portNumbers(ports []config.PortConfig) ([]int, error) {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		_, portStr, err := net.SplitHostPort(p.Address)
		if err != nil {
			return nil, fmt.Errorf("port address %q: %w", p.Address, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("port address %q: %w", p.Address, err)
		}
		out = append(out, port)
	}
	return out, nil
}

// ensureVoid creates the bootstrap room (dbref #1, spec §6) the first
// time the store is empty.
func ensureVoid(ctx context.Context, w *world.World) error {
	if _, err := w.Get(ctx, dbref.Void); err == nil {
		return nil
	}
	void := &model.Room{B: model.NewBase(dbref.Void, model.KindRoom, "The Void", dbref.Void)}
	void.B.Location = dbref.Void
	return w.Save(ctx, void)
}

func programLoader(w *world.World) script.ProgramLoader {
	return func(ctx context.Context, ref dbref.DbRef) (*model.Program, error) {
		obj, err := w.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		p, ok := obj.(*model.Program)
		if !ok {
			return nil, fmt.Errorf("serve: %s is not a program", ref)
		}
		return p, nil
	}
}
