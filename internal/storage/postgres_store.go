package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/ride-booking/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies a SQL file such as migrations/001_create_rides.sql.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, string(b))
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(ctx context.Context, r models.RideRecord) (models.RideRecord, error) {
	minutes, err := strconv.Atoi(r.RideTime)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("ride_time %q: %w", r.RideTime, err)
	}
	r.RideID = uuid.NewString()
	var created time.Time
	err = p.db.QueryRowContext(ctx, `INSERT INTO rides(
		ride_id, origin_address, destination_address, origin_latitude, origin_longitude,
		destination_latitude, destination_longitude, ride_time, fare_price, payment_status,
		driver_id, user_id
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING created_at`,
		r.RideID, r.OriginAddress, r.DestinationAddress, r.OriginLatitude, r.OriginLongitude,
		r.DestinationLatitude, r.DestinationLongitude, minutes, r.FarePrice, r.PaymentStatus,
		r.DriverID, r.UserID,
	).Scan(&created)
	if err != nil {
		return models.RideRecord{}, err
	}
	created = created.UTC()
	r.CreatedAt = &created
	return r, nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (models.RideRecord, error) {
	var (
		r       models.RideRecord
		minutes int
		created time.Time
	)
	err := p.db.QueryRowContext(ctx, `SELECT ride_id, origin_address, destination_address,
		origin_latitude, origin_longitude, destination_latitude, destination_longitude,
		ride_time, fare_price, payment_status, driver_id, user_id, created_at
		FROM rides WHERE ride_id = $1`, id).Scan(
		&r.RideID, &r.OriginAddress, &r.DestinationAddress,
		&r.OriginLatitude, &r.OriginLongitude, &r.DestinationLatitude, &r.DestinationLongitude,
		&minutes, &r.FarePrice, &r.PaymentStatus, &r.DriverID, &r.UserID, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRecord{}, ErrRideNotFound
	}
	if err != nil {
		return models.RideRecord{}, err
	}
	r.RideTime = strconv.Itoa(minutes)
	created = created.UTC()
	r.CreatedAt = &created
	return r, nil
}
