package payments

import (
	"context"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentmethod"
)

// ErrCanceled is returned by a MethodSource when the payer backs out.
var ErrCanceled = errors.New("payment method collection canceled")

// MethodSource supplies the payment method for one sheet presentation.
type MethodSource interface {
	Collect(ctx context.Context, cfg SheetConfig) (PaymentMethod, error)
}

// StaticMethod always returns the same, already tokenized, payment method.
type StaticMethod string

func (m StaticMethod) Collect(ctx context.Context, _ SheetConfig) (PaymentMethod, error) {
	if err := ctx.Err(); err != nil {
		return PaymentMethod{}, err
	}
	id := strings.TrimSpace(string(m))
	if id == "" {
		return PaymentMethod{}, ErrCanceled
	}
	return PaymentMethod{ID: id}, nil
}

// StripeTokenizer turns a card token (e.g. "tok_visa" in test mode) into a
// Stripe PaymentMethod.
type StripeTokenizer struct {
	CardToken string
}

// NewStripeTokenizer sets the global stripe key like the API gateway does.
func NewStripeTokenizer(apiKey, cardToken string) *StripeTokenizer {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	return &StripeTokenizer{CardToken: cardToken}
}

func (t *StripeTokenizer) Collect(ctx context.Context, _ SheetConfig) (PaymentMethod, error) {
	if t.CardToken == "" {
		return PaymentMethod{}, ErrCanceled
	}
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{Token: stripe.String(t.CardToken)},
	}
	params.Context = ctx
	pm, err := paymentmethod.New(params)
	if err != nil {
		return PaymentMethod{}, err
	}
	return PaymentMethod{ID: pm.ID}, nil
}
