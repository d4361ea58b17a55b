package eta

import (
	"context"
	"math"
	"time"

	"github.com/example/ride-booking/internal/models"
)

// Estimator returns the expected travel time between two points.
type Estimator interface {
	Estimate(ctx context.Context, from, to models.Coord) (time.Duration, error)
}

// Straight is the distance / speed fallback used when no routing engine is
// configured.
type Straight struct {
	SpeedMps float64
}

func (s Straight) Estimate(_ context.Context, from, to models.Coord) (time.Duration, error) {
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h city speed
	}
	secs := Haversine(from, to) / speed
	return time.Duration(secs * float64(time.Second)), nil
}

// Haversine returns the great-circle distance in meters.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Fallback tries Primary and uses Secondary when it errors.
type Fallback struct {
	Primary   Estimator
	Secondary Estimator
}

func (f Fallback) Estimate(ctx context.Context, from, to models.Coord) (time.Duration, error) {
	if f.Primary != nil {
		if d, err := f.Primary.Estimate(ctx, from, to); err == nil {
			return d, nil
		}
	}
	return f.Secondary.Estimate(ctx, from, to)
}

// RideMinutes is the ride_time value for a trip between two places.
func RideMinutes(ctx context.Context, e Estimator, from, to models.Place) (float64, error) {
	d, err := e.Estimate(ctx, from.Coord(), to.Coord())
	if err != nil {
		return 0, err
	}
	return d.Minutes(), nil
}
