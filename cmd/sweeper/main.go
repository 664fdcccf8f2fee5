// Command sweeper deletes orphaned test- entities that crashed runs left
// on the platform. It sweeps once and exits, or keeps running on a cron
// schedule when -cron is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"tpmjs/tests/integration/internal/auth"
	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/config"
	"tpmjs/tests/integration/internal/harness"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("sweeper exited with error: %v", err)
	}
}

func run() error {
	var (
		all       = flag.Bool("all", false, "sweep every test entity regardless of age")
		olderThan = flag.Duration("older-than", time.Hour, "only sweep entities older than this")
		cronSpec  = flag.String("cron", "", "cron expression; keep running and sweep on schedule")
		timezone  = flag.String("timezone", "", "IANA timezone for the cron expression (default UTC)")
	)
	flag.Parse()

	if path, loaded, err := config.LoadEnvFile(); err != nil {
		log.Printf("load env file failed: path=%s err=%v", path, err)
	} else if loaded > 0 {
		log.Printf("loaded %d env values from %s", loaded, path)
	}

	cfg := config.Load()
	if cfg.APIKey == "" {
		return fmt.Errorf("%s is not set", config.EnvAPIKey)
	}
	api := client.New(cfg.BaseURL, auth.APIKey(cfg.APIKey, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(*cronSpec) == "" {
		return sweepOnce(ctx, api, *all, *olderThan)
	}

	schedule, loc, err := parseSchedule(*cronSpec, *timezone)
	if err != nil {
		return err
	}
	log.Printf("sweeper running on schedule %q against %s", *cronSpec, cfg.BaseURL)
	for {
		next := schedule.Next(time.Now().In(loc))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("sweeper stopping")
			return nil
		case <-timer.C:
		}
		if err := sweepOnce(ctx, api, *all, *olderThan); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Printf("sweep failed: %v", err)
		}
	}
}

func sweepOnce(ctx context.Context, api *client.Client, all bool, olderThan time.Duration) error {
	start := time.Now()
	var (
		report harness.SweepReport
		err    error
	)
	if all {
		report, err = harness.SweepAll(ctx, api)
	} else {
		report, err = harness.SweepOrphans(ctx, api, olderThan)
	}
	if err != nil {
		return err
	}
	log.Printf("sweep done in %s: agents=%d collections=%d",
		time.Since(start).Round(time.Millisecond), report.Agents, report.Collections)
	return nil
}

func parseSchedule(spec, timezone string) (cronv3.Schedule, *time.Location, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		nextLoc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q", timezone)
		}
		loc = nextLoc
	}

	parser := cronv3.NewParser(cronv3.SecondOptional | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor)
	schedule, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, loc, nil
}
