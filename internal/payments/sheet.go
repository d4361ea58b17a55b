package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/ride-booking/internal/logging"
)

// Present error codes, matching the codes a hosted payment sheet reports.
const (
	CodeCanceled = "Canceled"
	CodeFailed   = "Failed"
)

var (
	ErrNotInitialized = errors.New("payment sheet not initialized")
	ErrEmptySecret    = errors.New("confirm handler returned an empty client secret")
)

// PaymentMethod is the opaque token produced once the payer entered details.
type PaymentMethod struct {
	ID string
}

// ConfirmFunc finalizes a deferred intent for the given method and returns
// the client secret the sheet should complete with.
type ConfirmFunc func(ctx context.Context, method PaymentMethod, savePaymentMethod bool) (string, error)

// SheetConfig configures a deferred-intent payment sheet. Amount is in minor
// units of CurrencyCode.
type SheetConfig struct {
	MerchantDisplayName string
	Amount              int64
	CurrencyCode        string
	ReturnURL           string
	Confirm             ConfirmFunc
}

func (c SheetConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MerchantDisplayName) == "" {
		errs = append(errs, errors.New("merchant display name is required"))
	}
	if c.Amount <= 0 {
		errs = append(errs, fmt.Errorf("amount must be > 0, got %d", c.Amount))
	}
	if len(c.CurrencyCode) != 3 {
		errs = append(errs, fmt.Errorf("currency code must have 3 letters, got %q", c.CurrencyCode))
	}
	if c.Confirm == nil {
		errs = append(errs, errors.New("confirm handler is required"))
	}
	return errors.Join(errs...)
}

// PresentResult is returned when the sheet completed successfully.
type PresentResult struct {
	PaymentMethodID string
	ClientSecret    string
}

// PresentError is a terminal sheet failure surfaced to the payer.
type PresentError struct {
	Code    string
	Message string
	Err     error
}

func (e *PresentError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func (e *PresentError) Unwrap() error { return e.Err }

// Processor is the payment capability the booking pipeline depends on.
type Processor interface {
	Initialize(ctx context.Context, cfg SheetConfig) error
	Present(ctx context.Context) (PresentResult, error)
}

// Sheet is a headless Processor. Instead of rendering UI it pulls a single
// payment method from its source and drives the confirm handler with it.
type Sheet struct {
	source MethodSource
	logger *slog.Logger

	mu  sync.Mutex
	cfg *SheetConfig
}

func NewSheet(source MethodSource, logger *slog.Logger) *Sheet {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sheet{source: source, logger: logger}
}

func (s *Sheet) Initialize(ctx context.Context, cfg SheetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()
	s.logger.Debug("payment sheet initialized", "amount", cfg.Amount, "currency", cfg.CurrencyCode, "merchant", cfg.MerchantDisplayName)
	return nil
}

// Present consumes the configuration set by Initialize; a second Present
// without re-initializing fails with ErrNotInitialized.
func (s *Sheet) Present(ctx context.Context) (PresentResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.cfg = nil
	s.mu.Unlock()
	if cfg == nil {
		return PresentResult{}, &PresentError{Code: CodeFailed, Message: ErrNotInitialized.Error(), Err: ErrNotInitialized}
	}

	method, err := s.source.Collect(ctx, *cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCanceled) {
			return PresentResult{}, &PresentError{Code: CodeCanceled, Message: "The payment flow has been canceled", Err: err}
		}
		return PresentResult{}, &PresentError{Code: CodeFailed, Message: err.Error(), Err: err}
	}
	s.logger.Info("payment method collected", "payment_method_id", method.ID)

	secret, err := cfg.Confirm(ctx, method, false)
	if err != nil {
		if ctx.Err() != nil {
			return PresentResult{}, &PresentError{Code: CodeCanceled, Message: "The payment flow has been canceled", Err: err}
		}
		return PresentResult{}, &PresentError{Code: CodeFailed, Message: err.Error(), Err: err}
	}
	if secret == "" {
		return PresentResult{}, &PresentError{Code: CodeFailed, Message: ErrEmptySecret.Error(), Err: ErrEmptySecret}
	}
	return PresentResult{PaymentMethodID: method.ID, ClientSecret: secret}, nil
}
