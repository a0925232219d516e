package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/spf13/cobra"
)

type loadConfig struct {
	server        string
	clients       int
	duration      time.Duration
	minDelay      time.Duration
	maxDelay      time.Duration
	statsInterval time.Duration
}

func (c loadConfig) validate() error {
	if c.clients < 1 {
		return fmt.Errorf("clients must be at least 1, got %d", c.clients)
	}
	if c.duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", c.duration)
	}
	if c.minDelay < 0 || c.maxDelay < c.minDelay {
		return fmt.Errorf("invalid delay range %v - %v", c.minDelay, c.maxDelay)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg loadConfig

	cmd := &cobra.Command{
		Use:           "chatload",
		Short:         "Flood a chat server with bot clients",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats := &Stats{}
			runLoad(ctx, cfg, stats)
			report(cfg, stats.snapshot())
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.server, "server", client.DefaultServer, "Server address (host:port or ws://host:port)")
	cmd.Flags().IntVar(&cfg.clients, "clients", 10, "Number of concurrent clients")
	cmd.Flags().DurationVar(&cfg.duration, "duration", time.Minute, "Test duration")
	cmd.Flags().DurationVar(&cfg.minDelay, "min-delay", 100*time.Millisecond, "Minimum delay between messages")
	cmd.Flags().DurationVar(&cfg.maxDelay, "max-delay", time.Second, "Maximum delay between messages")
	cmd.Flags().DurationVar(&cfg.statsInterval, "stats-interval", 5*time.Second, "How often to log running stats")

	return cmd
}

// runLoad ramps bots up over the first quarter of the run and waits for all of them
func runLoad(ctx context.Context, cfg loadConfig, stats *Stats) {
	rampUp := cfg.duration / 4
	stagger := max(rampUp/time.Duration(cfg.clients), time.Millisecond)

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", cfg.server)
	log.Printf("  Clients: %d", cfg.clients)
	log.Printf("  Duration: %v", cfg.duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUp, stagger)
	log.Printf("  Delay: %v - %v", cfg.minDelay, cfg.maxDelay)

	stopStats := make(chan struct{})
	if cfg.statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.statsInterval)
			defer ticker.Stop()

			start := time.Now()
			for {
				select {
				case <-ticker.C:
					snap := stats.snapshot()
					rate := float64(snap.sent) / time.Since(start).Seconds()
					log.Printf("Stats: %d sent (%.1f/s), %d received, %d failed, %d conn errors, avg rtt %v",
						snap.sent, rate, snap.received, snap.failed, snap.connErrors, snap.avgRTT)
				case <-stopStats:
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
spawn:
	for i := 0; i < cfg.clients; i++ {
		// Reverse order for ramp-down
		shutdownDelay := stagger * time.Duration(cfg.clients-i-1)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			b, err := newBot(ctx, id, cfg.server, stats)
			if err != nil {
				stats.recordConnectionError()
				if id%100 == 0 {
					log.Printf("[Bot %d] %v", id, err)
				}
				return
			}
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected", id)
			}
			b.run(ctx, cfg.duration, cfg.minDelay, cfg.maxDelay, shutdownDelay)
		}(i)

		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received, stopping test...")
			break spawn
		case <-time.After(stagger):
		}
	}

	wg.Wait()
	close(stopStats)
}

func report(cfg loadConfig, snap snapshot) {
	rate := float64(snap.sent) / cfg.duration.Seconds()

	avgDelay := (cfg.minDelay + cfg.maxDelay) / 2
	expected := float64(cfg.clients)
	if avgDelay > 0 {
		expected *= float64(cfg.duration) / float64(avgDelay)
	}

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", cfg.duration)
	log.Printf("Messages sent: %d (%.1f/s)", snap.sent, rate)
	log.Printf("Messages received: %d", snap.received)
	log.Printf("Messages failed: %d", snap.failed)
	log.Printf("  - Server errors: %d", snap.serverErrors)
	log.Printf("  - Disconnections: %d", snap.disconnections)
	log.Printf("Connection errors: %d", snap.connErrors)
	log.Printf("Average round trip: %v", snap.avgRTT)
	if expected > 0 {
		log.Printf("Actual vs expected: %.1f%% efficiency", float64(snap.sent)/expected*100)
	}
}
