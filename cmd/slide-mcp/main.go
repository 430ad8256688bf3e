// Command slide-mcp serves whole-slide images to MCP clients over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironsheep/slide-tiles-mcp/internal/backend/dzi"
	"github.com/ironsheep/slide-tiles-mcp/internal/backend/plain"
	"github.com/ironsheep/slide-tiles-mcp/internal/config"
	"github.com/ironsheep/slide-tiles-mcp/internal/handlecache"
	"github.com/ironsheep/slide-tiles-mcp/internal/logging"
	"github.com/ironsheep/slide-tiles-mcp/internal/manager"
	"github.com/ironsheep/slide-tiles-mcp/internal/ocr"
	"github.com/ironsheep/slide-tiles-mcp/internal/server"
	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
	"github.com/ironsheep/slide-tiles-mcp/internal/storage"
	"github.com/ironsheep/slide-tiles-mcp/internal/telemetry"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const serviceName = "slide-tiles-mcp"

// shutdownTimeout bounds closing handles and flushing telemetry.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:], config.Environ())
	stop()
	os.Exit(code)
}

// run executes one command and returns the exit code.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "pyramid", "version", "help":
			cmd, args = args[0], args[1:]
		case "--version", "-v":
			cmd = "version"
		case "--help", "-h":
			cmd = "help"
		}
	}

	var err error
	switch cmd {
	case "version":
		printVersion(stdout)
		return 0
	case "help":
		printHelp(stdout)
		return 0
	case "pyramid":
		err = runPyramid(ctx, stdout, args)
	default:
		err = runServe(ctx, stdin, stdout, stderr, args, env)
	}
	if err != nil {
		fmt.Fprintf(stderr, "slide-mcp %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", serviceName, Version)
	fmt.Fprintf(w, "  Build time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "slide-mcp - MCP server for whole-slide image tiles")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  slide-mcp [serve] [options]                 Serve MCP over stdin/stdout")
	fmt.Fprintln(w, "  slide-mcp pyramid [options] <image> <dir>   Export an image as a Deep Zoom pyramid")
	fmt.Fprintln(w, "  slide-mcp version                           Print version information")
	fmt.Fprintln(w, "  slide-mcp help                              Print this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Serve options:")
	fmt.Fprint(w, config.NewFlagSet("serve").FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Pyramid options:")
	fmt.Fprint(w, newPyramidFlags().FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Every serve option can also be set as %s<OPTION>, e.g. %sLOG_LEVEL=debug.\n",
		config.EnvPrefix, config.EnvPrefix)
	fmt.Fprintln(w, "Configure the server in your MCP client (e.g., Claude Desktop).")
}

func runServe(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) (err error) {
	cfg, rest, err := config.Load(config.LoadInput{Args: args, Env: env})
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected arguments %v", rest)
	}

	// Logging goes to stderr (stdout is for MCP protocol)
	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Debug("starting",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("commit", GitCommit),
		slog.String("config", cfg.Source))

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     Version,
		Exporter:    cfg.Telemetry,
		Endpoint:    cfg.OTLPEndpoint,
		Writer:      stderr,
	})
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, logger, tel)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return err
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, mgr.Close(sctx), tel.Shutdown(sctx))
	}()

	srv := server.New(server.Options{
		Manager: mgr,
		OCR:     ocr.NewReader(cfg.OCRLanguage),
		Logger:  logger,
		Name:    serviceName,
		Version: Version,
	})

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, stdin, stdout) }()

	select {
	case err := <-done:
		logger.Debug("input closed")
		return err
	case <-ctx.Done():
		logger.Info("shutting down", slog.Any("cause", context.Cause(ctx)))
		return nil
	}
}

// newRegistry builds the decoder backends. The region budget also bounds the
// native read window of each backend.
func newRegistry(cfg config.Config) *slide.Registry {
	return slide.NewRegistry(
		plain.Backend(plain.Options{
			TileSize:        cfg.TileSize,
			MaxRegionPixels: cfg.MaxReturnedRegionSize,
		}),
		dzi.Backend(dzi.Options{
			MaxRegionPixels:   cfg.MaxReturnedRegionSize,
			DecodeConcurrency: cfg.DecodeWorkers,
		}),
	)
}

// newManager wires backends, storage mapper and handle cache.
func newManager(cfg config.Config, logger *slog.Logger, tel *telemetry.Telemetry) (*manager.Manager, error) {
	reg := newRegistry(cfg)

	var mapper storage.Mapper
	if cfg.MapperAddress != "" {
		m, err := storage.NewHTTPMapper(cfg.MapperAddress, cfg.DataDir, cfg.MapperTimeout())
		if err != nil {
			return nil, err
		}
		mapper = m
	} else {
		mapper = storage.NewDirMapper(cfg.DataDir, reg.Extensions())
	}

	cache, err := handlecache.New(reg.Open, handlecache.Config{
		MaxHandles:  cfg.ImageHandleCacheSize,
		IdleTimeout: cfg.IdleTimeout(),
		Logger:      logger,
		Meter:       tel.Meter(),
	})
	if err != nil {
		return nil, err
	}

	mgr, err := manager.New(mapper, cache, manager.Config{
		MaxRegionPixels:  cfg.MaxReturnedRegionSize,
		MaxThumbnailSize: cfg.MaxThumbnailSize,
		DecodeWorkers:    cfg.DecodeWorkers,
		Tracer:           tel.Tracer(),
		Meter:            tel.Meter(),
	})
	if err != nil {
		_ = cache.CloseAll(context.Background())
		return nil, err
	}
	return mgr, nil
}
