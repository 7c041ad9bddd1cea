package main

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/jingkaihe/activator/pkg/activation"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host            string
	Port            int
	Watch           bool
	Debounce        time.Duration
	ShutdownTimeout time.Duration
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host:            "localhost",
		Port:            8377,
		Watch:           true,
		Debounce:        activation.DefaultDebounce,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate validates the serve configuration
func (c *ServeConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Host != "localhost" && net.ParseIP(c.Host) == nil {
		if strings.Contains(c.Host, " ") || strings.Contains(c.Host, ":") {
			return errors.Errorf("invalid host: %s", c.Host)
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Debounce < 0 {
		return errors.Errorf("debounce cannot be negative: %s", c.Debounce)
	}

	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rule resolution and hook dispatch over HTTP",
	Long: `Start an HTTP server that lets a host runtime resolve rules and dispatch
hooks. With --watch (the default) the configured sources are reloaded whenever
they change; a reload that fails keeps the previous configuration active.

Endpoints:
  GET  /api/rules?path=<path>
  POST /api/dispatch   {"event": "PreToolUse", "tool_name": "Write", "context": {...}}
  POST /api/reload
  GET  /api/status`,
	Run: func(cmd *cobra.Command, args []string) {
		config := getServeConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			fail(err, "invalid server configuration")
			return
		}
		if err := runServe(cmd.Context(), config); err != nil {
			fail(err, "server failed")
		}
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")
	serveCmd.Flags().Bool("watch", defaults.Watch, "Reload sources when they change")
	serveCmd.Flags().Duration("debounce", defaults.Debounce, "Quiet period before a change triggers a reload")
	serveCmd.Flags().Duration("shutdown-timeout", defaults.ShutdownTimeout, "Time to wait for running hooks on shutdown")
}

func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}
	if debounce, err := cmd.Flags().GetDuration("debounce"); err == nil {
		config.Debounce = debounce
	}
	if timeout, err := cmd.Flags().GetDuration("shutdown-timeout"); err == nil {
		config.ShutdownTimeout = timeout
	}

	return config
}

func runServe(ctx context.Context, config *ServeConfig) error {
	service, src, err := loadService(ctx)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(service, &server.ServerConfig{
		Host:    config.Host,
		Port:    config.Port,
		Sources: src,
	})
	if err != nil {
		return err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"host":  config.Host,
		"port":  config.Port,
		"watch": config.Watch,
	}).Info("starting activation server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if config.Watch {
		g.Go(func() error {
			return service.Watch(gctx, src, config.Debounce)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
	defer cancel()
	if serr := service.Shutdown(shutdownCtx); serr != nil {
		logger.G(ctx).WithError(serr).Warn("hooks still running at shutdown")
	}

	return err
}
