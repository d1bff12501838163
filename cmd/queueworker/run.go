package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johnwu5/idoit/config"
	"github.com/johnwu5/idoit/internal/demoleaf"
	"github.com/johnwu5/idoit/iox"
	"github.com/johnwu5/idoit/log"
	"github.com/johnwu5/idoit/metrics"
	"github.com/johnwu5/idoit/queue"
	"github.com/johnwu5/idoit/store"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitStoreError   = 2
	exitRuntimeError = 3
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Poll configured pools and dispatch chain/group commands until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to YAML config file"},
			&cli.StringFlag{Name: "store-url", Usage: "Redis connection URL (redis://host:port/db)"},
			&cli.StringFlag{Name: "store-prefix", Usage: "Key namespace prefix", Value: store.DefaultPrefix},
			&cli.StringSliceFlag{Name: "pool", Usage: "Pool to poll, in priority order (repeatable)"},
			&cli.DurationFlag{Name: "poll-interval", Usage: "Backoff between empty polls of a pool"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadOptionalConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	storeURL := resolveString(c, "store-url", configStoreVal(cfg, func(c *config.Config) string { return c.Store.URL }))
	if storeURL == "" {
		return cli.Exit("--store-url is required (provide via CLI flag or config file)", exitConfigError)
	}
	storePrefix := resolveString(c, "store-prefix", configStoreVal(cfg, func(c *config.Config) string { return c.Store.Prefix }))

	pools := c.StringSlice("pool")
	if len(pools) == 0 && cfg != nil {
		pools = cfg.Worker.Pools
	}
	if len(pools) == 0 {
		return cli.Exit("at least one --pool is required (provide via CLI flag or config file)", exitConfigError)
	}

	s, err := store.Dial(store.Config{URL: storeURL, Prefix: storePrefix})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to dial store: %v", err), exitStoreError)
	}
	defer iox.DiscardClose(s)

	pollInterval := resolveDuration(c, "poll-interval", configPollIntervalVal(cfg))

	collector := metrics.NewCollector(strings.Join(pools, ","))
	q := queue.New(s, collector).WithPollInterval(pollInterval)
	q.Extend(demoleaf.DispatchName, demoleaf.Handle)
	logger := log.NewLogger(log.Context{}).Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Infof("queueworker: polling pools %v", pools)

	done := make(chan struct{}, len(pools))
	for _, pool := range pools {
		pool := pool
		go func() {
			q.Run(ctx, pool, func(err error) {
				logger.Errorf("queueworker: pool %s: %v", pool, err)
			})
			done <- struct{}{}
		}()
	}
	for range pools {
		<-done
	}

	snap := collector.Snapshot()
	logger.Infof("queueworker: stopped; claimed=%d won=%d lost=%d errored=%d",
		snap.CommandsClaimed, snap.CommandsWon, snap.CommandsLost, snap.CommandsErrored)
	return cli.Exit("", exitSuccess)
}

func loadOptionalConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func configStoreVal(cfg *config.Config, fn func(*config.Config) string) string {
	if cfg == nil {
		return ""
	}
	return fn(cfg)
}

func configPollIntervalVal(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 0
	}
	return cfg.Worker.PollInterval.Duration
}

// resolveString returns the CLI flag value if explicitly set, else the
// config value if non-empty, else the urfave default.
func resolveString(c *cli.Context, flag string, configVal string) string {
	if c.IsSet(flag) {
		return c.String(flag)
	}
	if configVal != "" {
		return configVal
	}
	return c.String(flag)
}

// resolveDuration returns the CLI flag value if explicitly set, else the
// config value if non-zero, else the urfave default.
func resolveDuration(c *cli.Context, flag string, configVal time.Duration) time.Duration {
	if c.IsSet(flag) {
		return c.Duration(flag)
	}
	if configVal != 0 {
		return configVal
	}
	return c.Duration(flag)
}
