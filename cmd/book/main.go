package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-booking/internal/backend"
	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/eta"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/outbox"
	"github.com/example/ride-booking/internal/payments"
)

// terminal prints checkout outcomes.
type terminal struct{ w io.Writer }

func (t terminal) Alert(title, message string) { fmt.Fprintf(t.w, "%s\n%s\n", title, message) }
func (t terminal) ShowSuccess()                { fmt.Fprintln(t.w, "Booking placed successfully") }
func (t terminal) Push(route string)           { fmt.Fprintln(t.w, "navigate:", route) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run books one ride, or with -relay drains the outbox until ctx is done,
// and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	var (
		req        booking.Request
		method     string
		cardToken  string
		relayOnly  bool
		oLat, oLon float64
		dLat, dLon float64
	)
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	fs.StringVar(&req.FullName, "name", "", "rider full name; the email local part is used when empty")
	fs.StringVar(&req.Email, "email", "", "rider email")
	fs.StringVar(&req.Amount, "amount", "", "fare as displayed, e.g. 25")
	fs.IntVar(&req.DriverID, "driver-id", 0, "selected driver id")
	fs.Float64Var(&req.RideTime, "ride-time", -1, "ride time in minutes; estimated from coordinates when negative")
	fs.StringVar(&req.UserID, "user-id", "", "authenticated user id")
	fs.StringVar(&req.Origin.Address, "origin", "", "origin address")
	fs.Float64Var(&oLat, "origin-lat", 0, "origin latitude")
	fs.Float64Var(&oLon, "origin-lon", 0, "origin longitude")
	fs.StringVar(&req.Destination.Address, "destination", "", "destination address")
	fs.Float64Var(&dLat, "destination-lat", 0, "destination latitude")
	fs.Float64Var(&dLon, "destination-lon", 0, "destination longitude")
	fs.StringVar(&method, "payment-method", "", "existing payment method id, e.g. pm_card_visa")
	fs.StringVar(&cardToken, "card-token", "", "card token to turn into a payment method via Stripe, e.g. tok_visa")
	fs.BoolVar(&relayOnly, "relay", false, "only deliver queued ride records, then keep retrying until interrupted")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	logger := logging.NewLogger("ride-booking-client", cfg.LogLevel)

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)

	var store outbox.Store = outbox.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs := outbox.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.OutboxPrefix)
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			logger.Error("redis unavailable for outbox", "error", err)
			return 1
		}
		store = rs
	} else {
		logger.Warn("REDIS_ADDR not set; undelivered rides are lost on exit")
	}
	relay := outbox.NewRelay(store, client, logger, outbox.Options{
		MaxAttempts: cfg.OutboxMaxAttempts,
		BaseDelay:   cfg.OutboxBaseDelay,
		MaxDelay:    cfg.OutboxMaxDelay,
	})

	if relayOnly {
		logger.Info("outbox relay running", "interval", cfg.OutboxInterval)
		if err := relay.Run(ctx, cfg.OutboxInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", "error", err)
			return 1
		}
		logger.Info("outbox relay stopped")
		return 0
	}

	req.Origin.Lat, req.Origin.Lon = oLat, oLon
	req.Destination.Lat, req.Destination.Lon = dLat, dLon
	if req.RideTime < 0 {
		var est eta.Estimator = eta.Straight{SpeedMps: cfg.DefaultSpeedMps}
		if cfg.OSRMEndpoint != "" {
			est = eta.Fallback{Primary: eta.NewOSRMClient(cfg.OSRMEndpoint), Secondary: est}
		}
		minutes, err := eta.RideMinutes(ctx, est, req.Origin, req.Destination)
		if err != nil {
			logger.Error("ride time estimate failed", "error", err)
			return 1
		}
		req.RideTime = minutes
	}

	var source payments.MethodSource = payments.StaticMethod(method)
	if cardToken != "" {
		source = payments.NewStripeTokenizer(cfg.StripeAPIKey, cardToken)
	}

	pipeline := booking.NewPipeline(client, relay, booking.Settings{
		MerchantName: cfg.MerchantName,
		Currency:     cfg.Currency,
		ReturnURL:    cfg.ReturnURL,
	}, logger)
	ui := terminal{w: stdout}
	checkout := booking.NewCheckout(pipeline, payments.NewSheet(source, logger), ui, ui, cfg.HomeRoute, logger)

	state, err := checkout.Open(ctx, req)
	logger.Info("checkout finished", "state", state.String(), "ride", describe(req))
	if err != nil {
		return 1
	}
	checkout.BackHome()

	if n, err := store.Pending(ctx); err == nil && n > 0 {
		logger.Warn("ride records still queued; run with -relay to keep delivering", "pending", n)
	}
	return 0
}

func describe(r booking.Request) string {
	return fmt.Sprintf("%s -> %s (%s min)", r.Origin.Address, r.Destination.Address, booking.FormatRideTime(r.RideTime))
}
