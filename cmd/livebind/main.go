// Program livebind demonstrates binding asynchronous sequences to an output
// that is replaced as values arrive.
//
// It pushes a list of values through a relay into a coordinator, then races
// a slow and a fast delayed sequence against each other and reports which one
// ends up displayed. With -metrics, it serves Prometheus metrics until
// interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/creachadair/livebind"
	"github.com/creachadair/livebind/replace"
	"github.com/creachadair/livebind/telemetry"
)

func main() {
	values := flag.String("values", "foo,bar,", "Comma-separated values to push; an empty entry clears the output")
	slow := flag.Duration("slow", 20*time.Millisecond, "Delay of the sequence bound first")
	fast := flag.Duration("fast", 10*time.Millisecond, "Delay of the sequence bound second")
	metricsAddr := flag.String("metrics", "", "If set, serve Prometheus metrics on this address until interrupted")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	if err := runRelay(ctx, logger, collector, strings.Split(*values, ",")); err != nil {
		logger.Fatal().Err(err).Msg("relay demo failed")
	}
	winner, err := runRace(ctx, logger, collector, *slow, *fast)
	if err != nil {
		logger.Fatal().Err(err).Msg("race demo failed")
	}
	fmt.Printf("race: displayed %q\n", winner)

	if *metricsAddr == "" {
		return
	}
	srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		<-ctx.Done()
		shutdown, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdown)
	}()
	logger.Info().Str("addr", *metricsAddr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("metrics server stopped")
	}
}

// runRelay pushes each of values through a relay bound to a coordinator and
// prints the output after each push. Empty values clear the output.
func runRelay(ctx context.Context, logger zerolog.Logger, collector telemetry.Collector, values []string) error {
	var out livebind.Cell[string]
	c := replace.New[string, string](&out,
		replace.WithName("relay"),
		replace.WithLogger(logger),
		replace.WithTelemetry(collector),
		replace.WithEmpty(func(v any) bool { return v == "" }),
	)
	defer c.Close()

	r := livebind.NewRelay[string]()
	c.Bind(r, func(v string, i int) string { return fmt.Sprintf("%d: %s", i, v) })
	for _, v := range values {
		if err := r.Push(ctx, v); err != nil {
			return fmt.Errorf("push %q: %w", v, err)
		}
		if s, ok := out.Get().GetOK(); ok {
			fmt.Printf("relay: displayed %q\n", s)
		} else {
			fmt.Println("relay: cleared")
		}
	}
	return nil
}

// runRace binds a slow delayed sequence and then a fast one, and reports
// what is displayed once both delays have passed.
func runRace(ctx context.Context, logger zerolog.Logger, collector telemetry.Collector, slow, fast time.Duration) (string, error) {
	var out livebind.Cell[string]
	c := replace.New[string, string](&out,
		replace.WithName("race"),
		replace.WithLogger(logger),
		replace.WithTelemetry(collector),
	)
	defer c.Close()

	c.Bind(livebind.After(slow, "slow"), nil)
	c.Bind(livebind.After(fast, "fast"), nil)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(max(slow, fast) + 10*time.Millisecond):
	}
	return out.Get().Or("").Get(), nil
}
