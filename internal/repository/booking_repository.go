package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db base.DBTX) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(db)}
}

const bookingSelect = `
	SELECT b.id, b.booked_by_client_id, b.public_offering_id, b.created_at,
	       COALESCE(
	           (SELECT array_agg(a.client_id ORDER BY a.position)
	            FROM booking_attendees a
	            WHERE a.booking_id = b.id),
	           '{}'::text[]
	       ),
	       COALESCE(
	           (SELECT array_agg(s.start_time ORDER BY s.start_time)
	            FROM booking_slots s
	            WHERE s.booking_id = b.id),
	           '{}'::timestamptz[]
	       )
	FROM bookings b
`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var booking model.Booking
	err := row.Scan(
		&booking.ID,
		&booking.BookedByClientID,
		&booking.PublicOfferingID,
		&booking.CreatedAt,
		&booking.BookedForClientIDs,
		&booking.SlotKeys,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBooking получает бронирование по ID
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	booking, err := scanBooking(r.QueryRow(ctx, bookingSelect+` WHERE b.id = $1`, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return booking, nil
}

// SaveBooking создаёт бронирование вместе с участниками и слотами
func (r *BookingRepository) SaveBooking(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (id, booked_by_client_id, public_offering_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			booked_by_client_id = EXCLUDED.booked_by_client_id
	`

	err := r.Exec(ctx, query, booking.ID, booking.BookedByClientID, booking.PublicOfferingID, booking.CreatedAt)
	if err != nil {
		return fmt.Errorf("save booking: %w", err)
	}

	if err := r.deleteChildren(ctx, booking.ID); err != nil {
		return err
	}

	err = r.Exec(ctx, `
		INSERT INTO booking_attendees (booking_id, client_id, position)
		SELECT $1, a.client_id, a.position
		FROM unnest($2::text[]) WITH ORDINALITY AS a(client_id, position)
	`, booking.ID, booking.BookedForClientIDs)
	if err != nil {
		return fmt.Errorf("save booking attendees: %w", err)
	}

	err = r.Exec(ctx, `
		INSERT INTO booking_slots (booking_id, start_time)
		SELECT $1, unnest($2::timestamptz[])
		ON CONFLICT DO NOTHING
	`, booking.ID, booking.SlotKeys)
	if err != nil {
		return fmt.Errorf("save booking slots: %w", err)
	}

	return nil
}

func (r *BookingRepository) DeleteBooking(ctx context.Context, id string) error {
	if err := r.deleteChildren(ctx, id); err != nil {
		return err
	}
	if err := r.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) deleteChildren(ctx context.Context, bookingID string) error {
	if err := r.Exec(ctx, `DELETE FROM booking_attendees WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("delete booking attendees: %w", err)
	}
	if err := r.Exec(ctx, `DELETE FROM booking_slots WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("delete booking slots: %w", err)
	}
	return nil
}

// ListBookingsByPublicOffering получает все брони предложения
func (r *BookingRepository) ListBookingsByPublicOffering(ctx context.Context, publicOfferingID string) ([]*model.Booking, error) {
	query := bookingSelect + ` WHERE b.public_offering_id = $1 ORDER BY b.created_at, b.id`
	return r.list(ctx, query, publicOfferingID)
}

// ListBookingsByClient получает брони, где клиент заказчик или участник
func (r *BookingRepository) ListBookingsByClient(ctx context.Context, clientID string) ([]*model.Booking, error) {
	query := bookingSelect + `
		WHERE b.booked_by_client_id = $1
		   OR EXISTS (SELECT 1 FROM booking_attendees a WHERE a.booking_id = b.id AND a.client_id = $1)
		ORDER BY b.created_at, b.id
	`
	return r.list(ctx, query, clientID)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}
