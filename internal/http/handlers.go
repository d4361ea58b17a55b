package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-booking/internal/backend"
	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/dispatch"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/storage"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators of the API server.
type Deps struct {
	Gateway  payments.Gateway
	Store    storage.RideStore
	Idem     storage.IdempotencyStore
	Events   events.Publisher
	WSReg    *dispatch.WSRegistry
	Currency string
	Logger   *slog.Logger
	// Ready reports dependency health for /ready; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	gateway  payments.Gateway
	store    storage.RideStore
	idem     storage.IdempotencyStore
	events   events.Publisher
	wsreg    *dispatch.WSRegistry
	currency string
	ready    func(ctx context.Context) error
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.WSReg == nil {
		d.WSReg = dispatch.NewWSRegistry(d.Logger)
	}
	if d.Currency == "" {
		d.Currency = "usd"
	}
	s := &Server{
		gateway:  d.Gateway,
		store:    d.Store,
		idem:     d.Idem,
		events:   d.Events,
		wsreg:    d.WSReg,
		currency: d.Currency,
		ready:    d.Ready,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
	}
	s.routes()
	s.registerMiddleware()
	return s
}

// routes serves every endpoint under both the grouped path the mobile client
// calls and the plain /api path.
func (s *Server) routes() {
	for _, r := range []struct {
		grouped, plain string
		h              http.HandlerFunc
	}{
		{backend.PathCreateIntent, "/api/stripe/create", s.handleCreateIntent},
		{backend.PathPay, "/api/stripe/pay", s.handlePay},
		{backend.PathCreateRide, "/api/ride/create", s.handleCreateRide},
	} {
		s.mux.HandleFunc(r.grouped, r.h).Methods(http.MethodPost)
		s.mux.HandleFunc(r.plain, r.h).Methods(http.MethodPost)
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/drivers/{driver_id:[0-9]+}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// amountField accepts the display amount as a JSON string or number.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*a = amountField(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number")
	}
	*a = amountField(n.String())
	return nil
}

type createIntentBody struct {
	Name            string      `json:"name"`
	Email           string      `json:"email"`
	Amount          amountField `json:"amount"`
	PaymentMethodID string      `json:"paymentMethodId"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var body createIntentBody
	if !s.decode(w, r, &body) {
		return
	}
	if missing := missingFields(map[string]string{"name": body.Name, "email": body.Email, "amount": string(body.Amount), "paymentMethodId": body.PaymentMethodID}); missing != "" {
		writeError(w, http.StatusBadRequest, "missing required fields: "+missing)
		return
	}
	units, err := booking.ParseAmount(string(body.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.gateway.CreateIntent(r.Context(), payments.IntentInput{
		Name:            body.Name,
		Email:           body.Email,
		Amount:          units * 100,
		Currency:        s.currency,
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		s.paymentError(w, r, "create_intent", err)
		return
	}
	s.log(r.Context()).Info("payment intent created", "intent_id", resp.PaymentIntent.ID, "customer_id", resp.Customer, "amount", units*100)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var body models.PayRequest
	if !s.decode(w, r, &body) {
		return
	}
	if missing := missingFields(map[string]string{
		"payment_method_id": body.PaymentMethodID,
		"payment_intent_id": body.PaymentIntentID,
		"customer_id":       body.CustomerID,
		"client_secret":     body.ClientSecret,
	}); missing != "" {
		writeError(w, http.StatusBadRequest, "missing required fields: "+missing)
		return
	}

	result, err := s.gateway.Pay(r.Context(), body)
	if err != nil {
		s.paymentError(w, r, "pay", err)
		return
	}
	s.log(r.Context()).Info("payment confirmed", "intent_id", result.ID, "status", result.Status)
	writeJSON(w, http.StatusOK, models.PayResponse{Success: true, Message: "Payment successful", Result: result})
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var ride models.RideRecord
	if !s.decode(w, r, &ride) {
		return
	}
	if err := validateRide(ride); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride.RideID = ""
	ride.CreatedAt = nil

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(backend.IdempotencyHeader))
	if key != "" && s.idem != nil {
		existing, reserved, err := s.idem.Reserve(ctx, key)
		switch {
		case errors.Is(err, storage.ErrKeyInFlight):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			s.log(ctx).Error("idempotency reserve failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		case !reserved:
			stored, err := s.store.GetRide(ctx, existing)
			if err != nil {
				s.log(ctx).Error("idempotent replay lookup failed", "ride_id", existing, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, models.RideResponse{Data: stored})
			return
		}
		// a key whose ride was never inserted is released, also on panic,
		// so the client's retry is not locked out until the lease expires
		inserted := false
		defer func() {
			if !inserted {
				_ = s.idem.Release(context.WithoutCancel(ctx), key)
			}
		}()
		created, ok := s.insertRide(ctx, w, ride)
		if !ok {
			return
		}
		inserted = true
		if err := s.idem.Complete(context.WithoutCancel(ctx), key, created.RideID); err != nil {
			s.log(ctx).Error("idempotency complete failed; a retry after the lease may duplicate the ride", "ride_id", created.RideID, "error", err)
		}
		s.rideCreated(ctx, w, created)
		return
	}

	created, ok := s.insertRide(ctx, w, ride)
	if !ok {
		return
	}
	s.rideCreated(ctx, w, created)
}

func (s *Server) insertRide(ctx context.Context, w http.ResponseWriter, ride models.RideRecord) (models.RideRecord, bool) {
	created, err := s.store.CreateRide(ctx, ride)
	if err != nil {
		s.log(ctx).Error("ride insert failed", "error", err, "user_id", ride.UserID, "driver_id", ride.DriverID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return models.RideRecord{}, false
	}
	return created, true
}

// rideCreated announces a persisted ride and answers 201.
func (s *Server) rideCreated(ctx context.Context, w http.ResponseWriter, created models.RideRecord) {
	observability.RidesCreatedTotal.Inc()
	s.log(ctx).Info("ride created", "ride_id", created.RideID, "driver_id", created.DriverID, "user_id", created.UserID, "fare_price", created.FarePrice)

	if err := s.events.PublishRideCreated(ctx, created); err != nil {
		s.log(ctx).Warn("ride event publish failed", "ride_id", created.RideID, "error", err)
	}
	if err := s.wsreg.NotifyRide(created); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		s.log(ctx).Warn("driver notification failed", "ride_id", created.RideID, "error", err)
	}
	writeJSON(w, http.StatusCreated, models.RideResponse{Data: created})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.log(r.Context()).Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.wsreg.Add(id, conn)
	s.log(r.Context()).Info("driver connected", "driver_id", id)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) paymentError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if payments.IsCardError(err) {
		s.log(r.Context()).Warn("card declined", "op", op, "error", err)
		writeError(w, http.StatusPaymentRequired, payments.ErrorMessage(err))
		return
	}
	s.log(r.Context()).Error("payment provider error", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "payment provider error")
}

func validateRide(r models.RideRecord) error {
	var problems []string
	if missing := missingFields(map[string]string{
		"origin_address":      r.OriginAddress,
		"destination_address": r.DestinationAddress,
		"ride_time":           r.RideTime,
		"payment_status":      r.PaymentStatus,
		"user_id":             r.UserID,
	}); missing != "" {
		problems = append(problems, "missing required fields: "+missing)
	}
	if r.RideTime != "" {
		if m, err := strconv.Atoi(r.RideTime); err != nil || m < 0 {
			problems = append(problems, "ride_time must be a non-negative whole number")
		}
	}
	if r.FarePrice <= 0 {
		problems = append(problems, "fare_price must be > 0")
	}
	if r.DriverID <= 0 {
		problems = append(problems, "driver_id must be > 0")
	}
	if !validLat(r.OriginLatitude) || !validLat(r.DestinationLatitude) {
		problems = append(problems, "latitude out of range")
	}
	if !validLon(r.OriginLongitude) || !validLon(r.DestinationLongitude) {
		problems = append(problems, "longitude out of range")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

func validLat(v float64) bool { return v >= -90 && v <= 90 }
func validLon(v float64) bool { return v >= -180 && v <= 180 }

// missingFields lists, in sorted order, the keys whose value is blank.
func missingFields(fields map[string]string) string {
	var out []string
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
