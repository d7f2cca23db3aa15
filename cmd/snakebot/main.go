// Command snakebot connects a number of headless players that steer at
// random. It is a load generator for snakeserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/snakearena/client"
	"github.com/cyberinferno/snakearena/config"
	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/utils"
	"github.com/cyberinferno/snakearena/world"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", config.DefaultPort, "server port")
	bots := flag.Int("bots", 10, "number of bots")
	turnEvery := flag.Duration("turn", 500*time.Millisecond, "mean interval between turns")
	verbose := flag.Bool("v", false, "log connection events")
	flag.Parse()

	level := zerolog.InfoLevel
	if !*verbose {
		level = zerolog.WarnLevel
	}
	log := logger.NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}), "snakebot", level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *bots; i++ {
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			return runBot(ctx, *host, *port, *turnEvery, rand.New(rand.NewSource(seed)), log)
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context, host string, port int, turnEvery time.Duration, r *rand.Rand, log logger.Logger) error {
	cfg := client.DefaultConfig(host, "bot-"+utils.GenerateRandomString(6))
	cfg.Port = port
	cfg.Logger = log

	c := client.New(cfg)
	defer func() {
		_ = c.Close()
	}()

	failed := make(chan error, 1)
	c.OnConnected(func(id int64, size int) {
		log.Info("Bot joined",
			logger.Field{Key: "name", Value: cfg.Name},
			logger.Field{Key: "player", Value: id},
			logger.Field{Key: "size", Value: size},
		)
	})
	c.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	if err := c.Connect(); err != nil {
		return err
	}

	for {
		wait := time.Duration(r.Int63n(int64(2*turnEvery) + 1))
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("%s: %w", cfg.Name, err)
		case <-time.After(wait):
		}

		if c.State() != client.Playing {
			continue
		}
		if err := c.SendMove(utils.GetRandomElement(r, world.Directions)); err != nil {
			log.Warn("Move not sent", logger.Field{Key: "name", Value: cfg.Name}, logger.Field{Key: "error", Value: err.Error()})
		}
	}
}
