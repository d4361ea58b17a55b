package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/outbox"
	"github.com/example/ride-booking/internal/payments"
)

var (
	ErrNoIntentSecret  = errors.New("payment intent was created without a client secret")
	ErrNoPaymentSecret = errors.New("payment was executed without a client secret")
)

// InitError wraps a rejected sheet configuration.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return "initialize payment sheet: " + e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

// Backend is the payment half of the booking API.
type Backend interface {
	CreatePaymentIntent(ctx context.Context, req models.CreateIntentRequest) (models.CreateIntentResponse, error)
	Pay(ctx context.Context, req models.PayRequest) (models.PayResponse, error)
}

// RideQueue takes ownership of a paid ride and gets it recorded.
type RideQueue interface {
	Enqueue(ctx context.Context, ride models.RideRecord) (outbox.Entry, error)
}

// Settings are the merchant details sent with every intent and payment.
// Currency is an ISO code such as "usd".
type Settings struct {
	MerchantName string
	Currency     string
	ReturnURL    string
}

// Pipeline turns a confirmed payment method into a charged payment and a
// queued ride record.
type Pipeline struct {
	backend  Backend
	rides    RideQueue
	settings Settings
	logger   *slog.Logger
}

// NewPipeline returns a pipeline over the backend and ride queue.
func NewPipeline(backend Backend, rides RideQueue, settings Settings, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{backend: backend, rides: rides, settings: settings, logger: logger}
}

// SheetConfig builds the deferred-intent configuration for req. The sheet
// calls back into Confirm once the rider submitted a payment method.
func (p *Pipeline) SheetConfig(req Request) (payments.SheetConfig, error) {
	if err := req.Validate(); err != nil {
		return payments.SheetConfig{}, err
	}
	amount, err := req.MinorAmount()
	if err != nil {
		return payments.SheetConfig{}, err
	}
	return payments.SheetConfig{
		MerchantDisplayName: p.settings.MerchantName,
		Amount:              amount,
		CurrencyCode:        p.settings.Currency,
		ReturnURL:           p.settings.ReturnURL,
		Confirm: func(ctx context.Context, method payments.PaymentMethod, save bool) (string, error) {
			return p.Confirm(ctx, req, method, save)
		},
	}, nil
}

// Initialize configures proc for req. Any rejection comes back as *InitError.
func (p *Pipeline) Initialize(ctx context.Context, proc payments.Processor, req Request) error {
	cfg, err := p.SheetConfig(req)
	if err == nil {
		err = proc.Initialize(ctx, cfg)
	}
	if err != nil {
		p.logger.Error("payment sheet initialization failed", "stage", "initialize", "error", err)
		return &InitError{Err: err}
	}
	p.logger.Info("payment sheet initialized", "stage", "initialize", "amount", cfg.Amount, "currency", cfg.CurrencyCode)
	return nil
}

// Confirm creates the payment intent, executes the payment and, once both
// returned a client secret, queues the paid ride. It returns the secret the
// sheet must complete with. savePaymentMethod is accepted for parity with
// the sheet callback and ignored.
func (p *Pipeline) Confirm(ctx context.Context, req Request, method payments.PaymentMethod, savePaymentMethod bool) (string, error) {
	log := p.logger.With("payment_method_id", method.ID)
	log.Info("confirm handler triggered", "stage", "create_intent")

	intent, err := p.backend.CreatePaymentIntent(ctx, models.CreateIntentRequest{
		Name:            req.PayerName(),
		Email:           req.Email,
		Amount:          req.Amount,
		PaymentMethodID: method.ID,
	})
	if err != nil {
		return "", p.fail(log, "create_intent", fmt.Errorf("create payment intent: %w", err))
	}
	if intent.PaymentIntent.ClientSecret == "" {
		return "", p.fail(log, "create_intent", ErrNoIntentSecret)
	}
	log = log.With("intent_id", intent.PaymentIntent.ID, "customer_id", intent.Customer)
	log.Info("payment intent created", "stage", "pay")

	paid, err := p.backend.Pay(ctx, models.PayRequest{
		PaymentMethodID: method.ID,
		PaymentIntentID: intent.PaymentIntent.ID,
		CustomerID:      intent.Customer,
		ClientSecret:    intent.PaymentIntent.ClientSecret,
	})
	if err != nil {
		return "", p.fail(log, "pay", fmt.Errorf("execute payment: %w", err))
	}
	secret := paid.Result.ClientSecret
	if secret == "" {
		return "", p.fail(log, "pay", ErrNoPaymentSecret)
	}
	log.Info("payment processed", "stage", "create_ride", "status", paid.Result.Status)

	p.queueRide(ctx, log, req)

	observability.ConfirmationsTotal.WithLabelValues("succeeded").Inc()
	return secret, nil
}

// queueRide never fails the confirmation: the rider has been charged and the
// sheet must complete. A ride the queue could not even record is logged for
// manual reconciliation.
func (p *Pipeline) queueRide(ctx context.Context, log *slog.Logger, req Request) {
	ride, err := req.RideRecord()
	if err != nil {
		log.Error("ride record not built after payment", "stage", "create_ride", "error", err)
		return
	}
	entry, err := p.rides.Enqueue(ctx, ride)
	if err != nil {
		log.Error("ride record lost after payment", "stage", "create_ride", "error", err,
			"user_id", ride.UserID, "driver_id", ride.DriverID, "fare_price", ride.FarePrice)
		observability.ConfirmationsTotal.WithLabelValues("ride_unrecorded").Inc()
		return
	}
	log.Info("ride handed to outbox", "stage", "create_ride", "outbox_id", entry.ID, "outbox_status", entry.Status)
}

func (p *Pipeline) fail(log *slog.Logger, stage string, err error) error {
	log.Error("payment confirmation failed", "stage", stage, "error", err)
	observability.ConfirmationsTotal.WithLabelValues("failed_" + stage).Inc()
	return err
}
