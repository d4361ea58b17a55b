package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-booking/internal/payments"
)

type fakeUI struct {
	alerts  []string
	success int
}

func (f *fakeUI) Alert(title, message string) { f.alerts = append(f.alerts, title+"|"+message) }
func (f *fakeUI) ShowSuccess()                { f.success++ }

type fakeNav struct{ routes []string }

func (f *fakeNav) Push(route string) { f.routes = append(f.routes, route) }

// blockingSource parks Collect until released so tests can observe an open sheet.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Collect(ctx context.Context, _ payments.SheetConfig) (payments.PaymentMethod, error) {
	close(b.entered)
	<-b.release
	return payments.PaymentMethod{ID: "pm_slow"}, nil
}

func newTestCheckout(b Backend, src payments.MethodSource) (*Checkout, *fakeUI, *fakeNav, *rideSink) {
	sink := &rideSink{}
	p, _ := newTestPipeline(b, sink)
	ui, nav := &fakeUI{}, &fakeNav{}
	return NewCheckout(p, payments.NewSheet(src, nil), ui, nav, "/(root)/(tabs)/home", nil), ui, nav, sink
}

func TestCheckoutSuccessShowsConfirmation(t *testing.T) {
	c, ui, nav, sink := newTestCheckout(happyBackend(), payments.StaticMethod("pm_1"))

	state, err := c.Open(context.Background(), janeRequest())
	if err != nil || state != StateSucceeded {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if !c.Succeeded() || ui.success != 1 || len(ui.alerts) != 0 {
		t.Fatalf("success=%v ui=%+v", c.Succeeded(), ui)
	}
	if len(sink.rides) != 1 {
		t.Fatalf("rides=%d", len(sink.rides))
	}

	c.BackHome()
	if c.Succeeded() || c.State() != StateIdle {
		t.Fatalf("BackHome must reset the outcome, state=%v", c.State())
	}
	if len(nav.routes) != 1 || nav.routes[0] != "/(root)/(tabs)/home" {
		t.Fatalf("routes=%v", nav.routes)
	}
}

func TestCheckoutMissingSecretAlertsInsteadOfStalling(t *testing.T) {
	b := happyBackend()
	b.intentResp.PaymentIntent.ClientSecret = ""
	c, ui, _, sink := newTestCheckout(b, payments.StaticMethod("pm_1"))

	state, err := c.Open(context.Background(), janeRequest())
	if state != StateFailed || !errors.Is(err, ErrNoIntentSecret) {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if len(ui.alerts) != 1 || ui.alerts[0] != "Error code: Failed|"+ErrNoIntentSecret.Error() {
		t.Fatalf("alerts=%v", ui.alerts)
	}
	if c.Succeeded() || len(sink.rides) != 0 {
		t.Fatal("no success and no ride expected")
	}
}

func TestCheckoutInitErrorAlerts(t *testing.T) {
	c, ui, _, _ := newTestCheckout(happyBackend(), payments.StaticMethod("pm_1"))
	req := janeRequest()
	req.Amount = ""

	state, err := c.Open(context.Background(), req)
	var ie *InitError
	if state != StateFailed || !errors.As(err, &ie) {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if len(ui.alerts) != 1 {
		t.Fatalf("alerts=%v", ui.alerts)
	}
}

func TestCheckoutCanceledByPayer(t *testing.T) {
	c, ui, _, _ := newTestCheckout(happyBackend(), payments.StaticMethod(""))

	state, _ := c.Open(context.Background(), janeRequest())
	if state != StateFailed || len(ui.alerts) != 1 || ui.alerts[0][:len("Error code: Canceled")] != "Error code: Canceled" {
		t.Fatalf("state=%v alerts=%v", state, ui.alerts)
	}
	c.Dismiss()
	if c.State() != StateIdle {
		t.Fatalf("state=%v", c.State())
	}
}

func TestCheckoutRejectsSecondOpenWhileInFlight(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	c, _, _, sink := newTestCheckout(happyBackend(), src)

	done := make(chan State, 1)
	go func() {
		s, _ := c.Open(context.Background(), janeRequest())
		done <- s
	}()
	<-src.entered

	if _, err := c.Open(context.Background(), janeRequest()); !errors.Is(err, ErrCheckoutInFlight) {
		t.Fatalf("expected ErrCheckoutInFlight, got %v", err)
	}
	close(src.release)
	if s := <-done; s != StateSucceeded {
		t.Fatalf("first checkout state=%v", s)
	}
	if len(sink.rides) != 1 {
		t.Fatalf("expected one ride, got %d", len(sink.rides))
	}
}

func TestStateString(t *testing.T) {
	if StateConfirming.String() != "confirming" || State(42).String() != "state(42)" {
		t.Fatalf("unexpected names %q %q", StateConfirming, State(42))
	}
}
