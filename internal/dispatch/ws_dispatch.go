package dispatch

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// RideNotification is pushed to a driver when a paid ride is booked with them.
type RideNotification struct {
	Type string            `json:"type"`
	Ride models.RideRecord `json:"ride"`
}

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions keyed by driver id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers conn for driverID, closing any previous session of that driver.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	go r.readLoop(driverID, conn)
}

// readLoop drains control frames and drops the session once the peer leaves.
func (r *WSRegistry) readLoop(driverID string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			r.remove(driverID, conn)
			return
		}
	}
}

func (r *WSRegistry) remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

// NotifyRide tells the booked driver about a new paid ride.
func (r *WSRegistry) NotifyRide(ride models.RideRecord) error {
	id := strconv.Itoa(ride.DriverID)
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(RideNotification{Type: "ride.booked", Ride: ride}); err != nil {
		r.logger.Warn("ws send error", "driver_id", id, "error", err)
		return err
	}
	return nil
}
