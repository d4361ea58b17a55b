package models

import "time"

// PaymentStatusPaid is the only status the booking client ever writes.
const PaymentStatusPaid = "paid"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a geocoded address picked by the rider.
type Place struct {
	Address string  `json:"address"`
	Lat     float64 `json:"latitude"`
	Lon     float64 `json:"longitude"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lon: p.Lon} }

// CreateIntentRequest is the body of POST /(api)/(stripe)/create.
// Amount is the display amount exactly as the rider saw it.
type CreateIntentRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Amount          string `json:"amount"`
	PaymentMethodID string `json:"paymentMethodId"`
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Status       string `json:"status,omitempty"`
}

type CreateIntentResponse struct {
	PaymentIntent PaymentIntent `json:"paymentIntent"`
	Customer      string        `json:"customer"`
}

// PayRequest is the body of POST /(api)/(stripe)/pay.
type PayRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	CustomerID      string `json:"customer_id"`
	ClientSecret    string `json:"client_secret"`
}

type PaymentResult struct {
	ID           string `json:"id,omitempty"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status,omitempty"`
}

type PayResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Result  PaymentResult `json:"result"`
}

// RideRecord is the body of POST /(api)/ride/create. RideID and CreatedAt
// are assigned by the server.
type RideRecord struct {
	RideID               string     `json:"ride_id,omitempty"`
	OriginAddress        string     `json:"origin_address"`
	DestinationAddress   string     `json:"destination_address"`
	OriginLatitude       float64    `json:"origin_latitude"`
	OriginLongitude      float64    `json:"origin_longitude"`
	DestinationLatitude  float64    `json:"destination_latitude"`
	DestinationLongitude float64    `json:"destination_longitude"`
	RideTime             string     `json:"ride_time"`
	FarePrice            int64      `json:"fare_price"`
	PaymentStatus        string     `json:"payment_status"`
	DriverID             int        `json:"driver_id"`
	UserID               string     `json:"user_id"`
	CreatedAt            *time.Time `json:"created_at,omitempty"`
}

type RideResponse struct {
	Data RideRecord `json:"data"`
}

// RideCreatedEvent is published once a ride record has been persisted.
type RideCreatedEvent struct {
	Ride       RideRecord `json:"ride"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// ErrorResponse is the body of every non-2xx answer from the API.
type ErrorResponse struct {
	Error string `json:"error"`
}
