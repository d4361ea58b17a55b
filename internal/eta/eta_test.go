package eta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	c := models.Coord{Lat: 37.7, Lon: -122.4}
	if d := Haversine(c, c); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestStraightEstimate(t *testing.T) {
	// one degree of latitude is ~111.2km
	d, _ := Straight{SpeedMps: 10}.Estimate(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if d < 11000*time.Second || d > 11200*time.Second {
		t.Fatalf("unexpected duration %s", d)
	}
}

func TestOSRMEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/-122.400000,37.700000;") {
			t.Errorf("path=%s", r.URL.Path)
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"duration":780}]}`))
	}))
	defer srv.Close()

	from := models.Place{Address: "a", Lat: 37.7, Lon: -122.4}
	to := models.Place{Address: "b", Lat: 37.8, Lon: -122.3}
	minutes, err := RideMinutes(context.Background(), NewOSRMClient(srv.URL), from, to)
	if err != nil || minutes != 13 {
		t.Fatalf("minutes=%v err=%v", minutes, err)
	}
}

func TestFallbackOnRoutingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	e := Fallback{Primary: NewOSRMClient(srv.URL), Secondary: Straight{SpeedMps: 10}}
	d, err := e.Estimate(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if err != nil || d == 0 {
		t.Fatalf("d=%s err=%v", d, err)
	}
}
