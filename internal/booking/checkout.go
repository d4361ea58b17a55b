package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/payments"
)

var ErrCheckoutInFlight = errors.New("a checkout is already in progress")

// State of a single checkout.
type State int

const (
	StateIdle State = iota
	StateSheetOpen
	StateConfirming
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSheetOpen:
		return "sheet_open"
	case StateConfirming:
		return "confirming"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// UI is the presentation layer the checkout reports to.
type UI interface {
	Alert(title, message string)
	ShowSuccess()
}

// Navigator moves the app to another route, e.g. home after a booking.
type Navigator interface {
	Push(route string)
}

// Checkout opens the payment sheet for a booking and tracks the outcome.
// It allows one open sheet at a time.
type Checkout struct {
	pipeline  *Pipeline
	processor payments.Processor
	ui        UI
	nav       Navigator
	homeRoute string
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	success bool
}

// NewCheckout wires a checkout in the idle state. A nil logger discards.
func NewCheckout(pipeline *Pipeline, processor payments.Processor, ui UI, nav Navigator, homeRoute string, logger *slog.Logger) *Checkout {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Checkout{pipeline: pipeline, processor: processor, ui: ui, nav: nav, homeRoute: homeRoute, logger: logger}
}

// Open initializes and presents the sheet, then blocks until the processor
// reports a terminal result.
func (c *Checkout) Open(ctx context.Context, req Request) (State, error) {
	c.mu.Lock()
	if c.state == StateSheetOpen || c.state == StateConfirming {
		c.mu.Unlock()
		return c.State(), ErrCheckoutInFlight
	}
	c.state = StateSheetOpen
	c.success = false
	c.mu.Unlock()

	c.logger.Info("opening payment sheet", "driver_id", req.DriverID)
	tracked := trackingProcessor{Processor: c.processor, onConfirm: func() { c.setState(StateConfirming) }}
	if err := c.pipeline.Initialize(ctx, tracked, req); err != nil {
		return c.finish(&payments.PresentError{Code: payments.CodeFailed, Message: err.Error(), Err: err})
	}

	c.logger.Info("presenting payment sheet")
	res, err := c.processor.Present(ctx)
	if err != nil {
		return c.finish(err)
	}
	c.logger.Info("payment successful", "payment_method_id", res.PaymentMethodID)
	return c.finish(nil)
}

func (c *Checkout) finish(err error) (State, error) {
	if err != nil {
		var pe *payments.PresentError
		if !errors.As(err, &pe) {
			pe = &payments.PresentError{Code: payments.CodeFailed, Message: err.Error(), Err: err}
		}
		c.logger.Error("payment sheet error", "code", pe.Code, "error", err)
		c.setState(StateFailed)
		c.ui.Alert("Error code: "+pe.Code, pe.Message)
		return StateFailed, err
	}
	c.mu.Lock()
	c.state = StateSucceeded
	c.success = true
	c.mu.Unlock()
	c.ui.ShowSuccess()
	return StateSucceeded, nil
}

// Dismiss hides the success confirmation.
func (c *Checkout) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.success = false
	if c.state == StateSucceeded || c.state == StateFailed {
		c.state = StateIdle
	}
}

// BackHome dismisses the confirmation and returns to the home route.
func (c *Checkout) BackHome() {
	c.Dismiss()
	c.nav.Push(c.homeRoute)
}

func (c *Checkout) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Succeeded reports whether the success confirmation is showing.
func (c *Checkout) Succeeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.success
}

func (c *Checkout) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// trackingProcessor marks the checkout as confirming when the sheet hands
// over a payment method.
type trackingProcessor struct {
	payments.Processor
	onConfirm func()
}

func (t trackingProcessor) Initialize(ctx context.Context, cfg payments.SheetConfig) error {
	confirm := cfg.Confirm
	if confirm != nil {
		cfg.Confirm = func(ctx context.Context, m payments.PaymentMethod, save bool) (string, error) {
			t.onConfirm()
			return confirm(ctx, m, save)
		}
	}
	return t.Processor.Initialize(ctx, cfg)
}
