package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fernmcp/hostd/authmw"
	"github.com/fernmcp/hostd/dispatch"
	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/internal/logging"
	"github.com/fernmcp/hostd/internal/secretcipher"
	"github.com/fernmcp/hostd/mcpserver"
	"github.com/fernmcp/hostd/oauth"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/registry"
	"github.com/fernmcp/hostd/storage"
	"github.com/fernmcp/hostd/storage/fileblob"
	"github.com/fernmcp/hostd/storage/memstore"
	"github.com/fernmcp/hostd/storage/redisstore"
	httpserver "github.com/fernmcp/hostd/transport/server/http"
)

var (
	serveAddr      string
	serveStore     string
	serveRedisURL  string
	serveFileRoot  string
	serveAuthless  bool
	serveSecretRes string
	serveLogLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hosted MCP HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&serveStore, "store", "memory", "storage backend: memory, redis, or file")
	serveCmd.Flags().StringVar(&serveRedisURL, "redis-url", "redis://localhost:6379/0", "redis connection URL, used when --store=redis")
	serveCmd.Flags().StringVar(&serveFileRoot, "file-root", "file:///var/lib/hostd", "afs root URL, used when --store=file")
	serveCmd.Flags().BoolVar(&serveAuthless, "authless", false, "disable OAuth enforcement (single-tenant/dev mode)")
	serveCmd.Flags().StringVar(&serveSecretRes, "secret-resource", "", "viant/scy secret resource holding the AES-256 at-rest encryption key (file/redis stores); empty disables encryption")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level: debug, info, or error")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.NewStdLogger(os.Stderr, parseLogLevel(serveLogLevel))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAuthless {
		cfg.Auth.Authless = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cipher, err := openCipher(ctx)
	if err != nil {
		return fmt.Errorf("failed to load at-rest cipher: %w", err)
	}

	store, err := openStore(ctx, cipher)
	if err != nil {
		return fmt.Errorf("failed to open storage backend %q: %w", serveStore, err)
	}

	pm := protocol.NewProtocolManager(cfg.SupportedVersions)
	tools := registry.New()
	prompts := registry.New()
	resources := registry.NewResourceRegistry()
	d := dispatch.New(pm, tools, prompts, resources, store, cfg.ServerInfo, cfg.SessionLifetime)
	auth := authmw.New(cfg, store)
	oa := oauth.New(cfg, store)
	srv := mcpserver.New(cfg, pm, d, auth, oa, store, logger)

	httpSrv := httpserver.NewServer(serveAddr, srv.Handler())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("hostd: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Infof("hostd: listening on %s (store=%s, authless=%v)", serveAddr, serveStore, cfg.Auth.Authless)
	if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func parseLogLevel(level string) logging.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logging.LevelDebug
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func openStore(ctx context.Context, cipher secretcipher.Cipher) (storage.Storage, error) {
	switch serveStore {
	case "memory", "":
		return memstore.New(), nil
	case "redis":
		opts, err := redis.ParseURL(serveRedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid --redis-url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", serveRedisURL, err)
		}
		return redisstore.New(rdb, "hostd", cipher), nil
	case "file":
		return fileblob.Open(ctx, serveFileRoot, cipher)
	default:
		return nil, fmt.Errorf("unknown --store %q (want memory, redis, or file)", serveStore)
	}
}

func openCipher(ctx context.Context) (secretcipher.Cipher, error) {
	if serveSecretRes == "" {
		return secretcipher.Noop{}, nil
	}
	return secretcipher.NewAESGCMFromSecretResource(ctx, serveSecretRes)
}
