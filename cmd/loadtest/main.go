package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"golang.org/x/time/rate"
)

var (
	address        = flag.String("address", "127.0.0.1:5170", "Network input to send lines to")
	protocol       = flag.String("protocol", "tcp", "Transport (tcp or udp)")
	targetRate     = flag.Int("rate", 10000, "Target lines per second across all connections")
	duration       = flag.Duration("duration", time.Minute, "Test duration")
	connections    = flag.Int("connections", 4, "Number of concurrent connections")
	component      = flag.String("component", "com.acme.Orders", "Logger name written into each line")
	reportInterval = flag.Duration("interval", 5*time.Second, "Report interval")
)

// lineTemplates cover every shape of message the resolver handles
var lineTemplates = []func(r *rand.Rand) string{
	func(r *rand.Rand) string {
		return fmt.Sprintf(`{"orderId":%d,"paid":%t,"total":%d.%02d}`, r.IntN(100000), r.IntN(2) == 0, r.IntN(500), r.IntN(100))
	},
	func(r *rand.Rand) string {
		return fmt.Sprintf(`status: ok, attempt: %d, region: "eu-west-%d"`, r.IntN(5), r.IntN(3))
	},
	func(r *rand.Rand) string {
		return fmt.Sprintf(`[{"sku":"A-%d"},{"sku":"B-%d"}]`, r.IntN(1000), r.IntN(1000))
	},
	func(r *rand.Rand) string {
		return fmt.Sprintf(`{orderId: %d, 'note': 'almost json'}`, r.IntN(100000))
	},
	func(r *rand.Rand) string {
		return fmt.Sprintf("Order %d shipped", r.IntN(100000))
	},
}

// Stats tracks load test statistics
type Stats struct {
	linesSent  atomic.Uint64
	bytesSent  atomic.Uint64
	sendErrors atomic.Uint64
	startTime  time.Time
}

func (s *Stats) Report(logger *logging.Logger) {
	elapsed := time.Since(s.startTime).Seconds()
	sent := s.linesSent.Load()

	logger.Info().
		Float64("elapsed_seconds", elapsed).
		Uint64("lines_sent", sent).
		Float64("lines_per_second", float64(sent)/elapsed).
		Uint64("bytes_sent", s.bytesSent.Load()).
		Uint64("send_errors", s.sendErrors.Load()).
		Msg("Load test progress")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "console"})

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if *protocol != "tcp" && *protocol != "udp" {
		return fmt.Errorf("unsupported protocol: %s", *protocol)
	}
	if *connections <= 0 || *targetRate <= 0 {
		return fmt.Errorf("connections and rate must be positive")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *duration)
	defer cancelTimeout()

	logger.Info().
		Str("address", *address).
		Str("protocol", *protocol).
		Int("rate", *targetRate).
		Dur("duration", *duration).
		Int("connections", *connections).
		Msg("Starting load test")

	stats := &Stats{startTime: time.Now()}
	limiter := rate.NewLimiter(rate.Limit(*targetRate), *connections)

	go func() {
		ticker := time.NewTicker(*reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report(logger)
			}
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, *connections)
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runConnection(ctx, id, limiter, stats); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	stats.Report(logger)
	return <-errCh
}

func runConnection(ctx context.Context, id int, limiter *rate.Limiter, stats *Stats) error {
	conn, err := net.Dial(*protocol, *address)
	if err != nil {
		return fmt.Errorf("connection %d: %w", id, err)
	}
	defer conn.Close()

	r := rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
	levels := []string{"INFO", "WARN", "ERROR", "DEBUG"}

	for {
		if err := limiter.Wait(ctx); err != nil {
			// Deadline or signal
			return nil
		}

		msg := lineTemplates[r.IntN(len(lineTemplates))](r)
		line := fmt.Sprintf("%s %s [%s] - %s\n",
			time.Now().Format("2006-01-02 15:04:05,000"),
			levels[r.IntN(len(levels))],
			*component,
			msg,
		)

		n, err := conn.Write([]byte(line))
		if err != nil {
			stats.sendErrors.Add(1)
			if *protocol == "tcp" {
				return fmt.Errorf("connection %d: %w", id, err)
			}
			continue
		}
		stats.linesSent.Add(1)
		stats.bytesSent.Add(uint64(n))
	}
}
