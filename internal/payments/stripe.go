package payments

import (
	"context"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/paymentmethod"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

// IntentInput is what the API needs to open a PaymentIntent for a rider.
// Amount is in minor units.
type IntentInput struct {
	Name            string
	Email           string
	Amount          int64
	Currency        string
	PaymentMethodID string
}

// Gateway is the server side of the deferred-intent flow.
type Gateway interface {
	CreateIntent(ctx context.Context, in IntentInput) (models.CreateIntentResponse, error)
	Pay(ctx context.Context, req models.PayRequest) (models.PaymentResult, error)
}

// StripeClient is a thin wrapper around stripe-go implementing Gateway.
type StripeClient struct{}

// NewStripeClient initializes the global stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateIntent reuses the Stripe customer registered under the email, or
// creates one, then opens a PaymentIntent on it.
func (s *StripeClient) CreateIntent(ctx context.Context, in IntentInput) (models.CreateIntentResponse, error) {
	customerID, err := s.findOrCreateCustomer(ctx, in.Name, in.Email)
	if err != nil {
		observability.PaymentsTotal.WithLabelValues("customer", "error").Inc()
		return models.CreateIntentResponse{}, err
	}

	params := intentParams(in, customerID)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		observability.PaymentsTotal.WithLabelValues("create_intent", "error").Inc()
		return models.CreateIntentResponse{}, err
	}
	observability.PaymentsTotal.WithLabelValues("create_intent", "ok").Inc()
	return models.CreateIntentResponse{
		PaymentIntent: models.PaymentIntent{
			ID:           pi.ID,
			ClientSecret: pi.ClientSecret,
			Amount:       pi.Amount,
			Currency:     string(pi.Currency),
			Status:       string(pi.Status),
		},
		Customer: customerID,
	}, nil
}

// Pay attaches the method to the customer and confirms the intent with it.
func (s *StripeClient) Pay(ctx context.Context, req models.PayRequest) (models.PaymentResult, error) {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(req.CustomerID)}
	attach.Context = ctx
	if _, err := paymentmethod.Attach(req.PaymentMethodID, attach); err != nil {
		observability.PaymentsTotal.WithLabelValues("attach", "error").Inc()
		return models.PaymentResult{}, err
	}

	confirm := confirmParams(req)
	confirm.Context = ctx
	pi, err := paymentintent.Confirm(req.PaymentIntentID, confirm)
	if err != nil {
		observability.PaymentsTotal.WithLabelValues("confirm", "error").Inc()
		return models.PaymentResult{}, err
	}
	observability.PaymentsTotal.WithLabelValues("confirm", "ok").Inc()
	return models.PaymentResult{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// intentParams opens an intent confirmed later by the server with no payer
// present, so methods that need a redirect are excluded up front.
func intentParams(in IntentInput, customerID string) *stripe.PaymentIntentParams {
	return &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(strings.ToLower(in.Currency)),
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
}

func confirmParams(req models.PayRequest) *stripe.PaymentIntentConfirmParams {
	return &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(req.PaymentMethodID)}
}

func (s *StripeClient) findOrCreateCustomer(ctx context.Context, name, email string) (string, error) {
	list := &stripe.CustomerListParams{Email: stripe.String(email)}
	list.Limit = stripe.Int64(1)
	list.Context = ctx
	it := customer.List(list)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", err
	}

	params := &stripe.CustomerParams{Name: stripe.String(name), Email: stripe.String(email)}
	params.Context = ctx
	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// IsCardError reports whether err is a decline or other card-level failure
// the payer can fix, as opposed to a gateway or configuration problem.
func IsCardError(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.Type == stripe.ErrorTypeCard
	}
	return false
}

// ErrorMessage extracts the payer-facing message from a Stripe error.
func ErrorMessage(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	return err.Error()
}
