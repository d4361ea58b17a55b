package booking

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/ride-booking/internal/models"
)

var (
	ErrInvalidAmount = errors.New("amount must start with a positive whole number")
	ErrMissingEmail  = errors.New("rider email is required")
	ErrMissingUser   = errors.New("signed-in user id is required")
)

// Request is everything needed to pay for and book one ride. The signed-in
// user and the picked locations are passed in rather than read from session
// or location state.
type Request struct {
	FullName    string
	Email       string
	Amount      string // display amount in whole currency units, e.g. "25"
	DriverID    int
	RideTime    float64
	UserID      string
	Origin      models.Place
	Destination models.Place
}

// Validate reports every missing or malformed field at once, joined with
// errors.Join so callers can errors.Is each sentinel.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Email) == "" {
		errs = append(errs, ErrMissingEmail)
	}
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, ErrMissingUser)
	}
	if _, err := ParseAmount(r.Amount); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PayerName is the full name when one is known, otherwise the local part of
// the email address.
func (r Request) PayerName() string {
	if strings.TrimSpace(r.FullName) != "" {
		return r.FullName
	}
	local, _, _ := strings.Cut(r.Email, "@")
	return local
}

// MinorAmount is the amount in cents.
func (r Request) MinorAmount() (int64, error) {
	units, err := ParseAmount(r.Amount)
	if err != nil {
		return 0, err
	}
	return units * 100, nil
}

// RideRecord builds the paid ride for this request.
func (r Request) RideRecord() (models.RideRecord, error) {
	fare, err := r.MinorAmount()
	if err != nil {
		return models.RideRecord{}, err
	}
	return models.RideRecord{
		OriginAddress:        r.Origin.Address,
		DestinationAddress:   r.Destination.Address,
		OriginLatitude:       r.Origin.Lat,
		OriginLongitude:      r.Origin.Lon,
		DestinationLatitude:  r.Destination.Lat,
		DestinationLongitude: r.Destination.Lon,
		RideTime:             FormatRideTime(r.RideTime),
		FarePrice:            fare,
		PaymentStatus:        models.PaymentStatusPaid,
		DriverID:             r.DriverID,
		UserID:               r.UserID,
	}, nil
}

// ParseAmount reads the leading whole number of a display amount the way the
// rider-facing app always has: surrounding whitespace is ignored, an
// optional sign is accepted, and anything after the first non-digit is
// dropped, so "12.7" is 12. A missing or non-positive number is an error.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil || n > math.MaxInt64/100 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s[:end])
	}
	if neg || n == 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidAmount, n)
	}
	return n, nil
}

// FormatRideTime rounds half away from zero and drops the fraction.
func FormatRideTime(minutes float64) string {
	return strconv.FormatFloat(math.Round(minutes), 'f', 0, 64)
}
