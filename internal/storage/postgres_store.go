package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) FindBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, rider_id, COALESCE(driver_id,''), status, assignment_status,
		pickup_lat, pickup_lng, dest_lat, dest_lng, distance_km, duration_min, price, vehicle_type,
		COALESCE(payment_ref,''), created_at, updated_at FROM bookings WHERE id=$1`, id)
	var b models.Booking
	err := row.Scan(&b.ID, &b.RiderID, &b.DriverID, &b.Status, &b.AssignmentStatus,
		&b.Pickup.Lat, &b.Pickup.Lng, &b.Destination.Lat, &b.Destination.Lng,
		&b.DistanceKm, &b.DurationMin, &b.Price, &b.VehicleType, &b.PaymentRef, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = time.Now()
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, rider_id, driver_id, status, assignment_status,
		pickup_lat, pickup_lng, dest_lat, dest_lng, distance_km, duration_min, price, vehicle_type, payment_ref, created_at, updated_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),$15,$16)
		ON CONFLICT (id) DO UPDATE SET driver_id=NULLIF($3,''), status=$4, assignment_status=$5,
		payment_ref=NULLIF($14,''), updated_at=$16`,
		b.ID, b.RiderID, b.DriverID, b.Status, b.AssignmentStatus,
		b.Pickup.Lat, b.Pickup.Lng, b.Destination.Lat, b.Destination.Lng,
		b.DistanceKm, b.DurationMin, b.Price, b.VehicleType, b.PaymentRef, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) SaveDriverLocation(ctx context.Context, pos models.DriverPosition) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_locations(driver_id, lat, lng, updated_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (driver_id) DO UPDATE SET lat=$2, lng=$3, updated_at=$4`,
		pos.DriverID, pos.Lat, pos.Lng, pos.UpdatedAt)
	return err
}
