// Command snakeserver runs the arena: the TCP game listener, the admin HTTP
// surface and the spectator feed, until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/snakearena/admin"
	"github.com/cyberinferno/snakearena/cacher"
	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/engine"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/metrics"
	"github.com/cyberinferno/snakearena/server"
	"github.com/cyberinferno/snakearena/spectator"
	"github.com/cyberinferno/snakearena/transport"
)

type options struct {
	settingsPath string
	port         int
	adminAddr    string
	maxPlayers   int
	logDir       string
	logLevel     string
	cache        string
	redisAddr    string
}

// parseFlags reads the command line. Flag defaults come from SNAKEARENA_*
// environment variables, which a .env file in the working directory may set.
func parseFlags() options {
	var o options
	flag.StringVar(&o.settingsPath, "settings", envOr("SNAKEARENA_SETTINGS", "settings.xml"), "path to the GameSettings XML document; defaults are used if it does not exist")
	flag.IntVar(&o.port, "port", envIntOr("SNAKEARENA_PORT", config.DefaultPort), "TCP port for game clients")
	flag.StringVar(&o.adminAddr, "admin", envOr("SNAKEARENA_ADMIN_ADDR", "127.0.0.1:8080"), "admin HTTP address (empty disables it)")
	flag.IntVar(&o.maxPlayers, "max-players", envIntOr("SNAKEARENA_MAX_PLAYERS", 0), "override the player limit")
	flag.StringVar(&o.logDir, "log-dir", envOr("SNAKEARENA_LOG_DIR", "logs"), "directory for rotated log files")
	flag.StringVar(&o.logLevel, "log-level", envOr("SNAKEARENA_LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.StringVar(&o.cache, "cache", envOr("SNAKEARENA_CACHE", "memory"), "handshake cache backend: memory or redis")
	flag.StringVar(&o.redisAddr, "redis-addr", envOr("SNAKEARENA_REDIS_ADDR", "127.0.0.1:6379"), "Redis address for -cache redis")
	flag.Parse()

	return o
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	return def
}

func envIntOr(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s=%q: not an integer\n", key, v)
		return def
	}

	return n
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	if err := run(parseFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o options) error {
	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}

	log, err := logger.NewRotatingFileLogger("snakeserver", logger.FileOptions{
		Dir:        o.logDir,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Level:      level,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Close()
	}()

	settings, err := loadSettings(o, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	e, err := engine.New(settings, engine.Options{Logger: log, Recorder: m})
	if err != nil {
		return err
	}

	walls, closeCache, err := newWallCache(o, log)
	if err != nil {
		return err
	}
	defer closeCache()

	tcfg := transport.DefaultConfig()
	tcfg.Logger = log
	srv, err := server.New(server.Options{
		Addr:      net.JoinHostPort("", strconv.Itoa(settings.Port)),
		Engine:    e,
		Logger:    log,
		Metrics:   m,
		WallCache: walls,
		Transport: tcfg,
	})
	if err != nil {
		return err
	}

	hub, err := spectator.NewHub(spectator.Options{
		Source:  e,
		Logger:  log,
		Metrics: m,
		Period:  settings.FrameDuration(),
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			srv.Stop()
			return nil
		case <-srv.ListenerDone():
			// Connected players keep playing; only new joins are lost.
			log.Error("Game listener died", logger.Field{Key: "error", Value: fmt.Sprint(srv.ListenerErr())})
			<-ctx.Done()
			srv.Stop()
			return nil
		}
	})

	g.Go(func() error {
		return hub.Run(ctx)
	})

	if o.adminAddr != "" {
		httpSrv := &http.Server{
			Addr: o.adminAddr,
			Handler: admin.NewHandler(admin.Config{
				Metrics:  m,
				Players:  e,
				Spectate: hub,
				Logger:   log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Info("Admin HTTP started", logger.Field{Key: "addr", Value: o.adminAddr})
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("Shutdown complete")
	return err
}

func loadSettings(o options, log logger.Logger) (config.Settings, error) {
	settings := config.Default()
	if _, statErr := os.Stat(o.settingsPath); statErr == nil {
		s, err := config.LoadFile(o.settingsPath)
		if err != nil {
			return config.Settings{}, err
		}
		settings = s
	} else {
		log.Warn("Settings file not found, using defaults", logger.Field{Key: "path", Value: o.settingsPath})
	}

	settings.Port = o.port
	if o.maxPlayers > 0 {
		settings.MaxPlayers = o.maxPlayers
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}

	log.Info("Settings loaded",
		logger.Field{Key: "universe_size", Value: settings.UniverseSize},
		logger.Field{Key: "ms_per_frame", Value: settings.MSPerFrame},
		logger.Field{Key: "walls", Value: len(settings.Walls)},
	)

	return settings, nil
}

func newWallCache(o options, log logger.Logger) (cacher.Cacher[[]string], func(), error) {
	switch o.cache {
	case "memory":
		return cacher.NewMemoryCacher[[]string](time.Minute), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		log.Info("Using Redis handshake cache", logger.Field{Key: "addr", Value: o.redisAddr})
		return cacher.NewRedisCacher[[]string](client, cacher.RedisOptions{}), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", o.cache)
	}
}
