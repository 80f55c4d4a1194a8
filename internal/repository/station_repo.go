package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/internal/domain"
)

// StationRepository es el registro de estaciones.
//
// Book y Release son escrituras condicionales atómicas: la comprobación del
// estado previo y la mutación ocurren en una sola operación del almacén.
// Book devuelve ErrStationNotFound, domain.ErrNotAvailable o ErrHolderBusy;
// Release devuelve ErrStationNotFound o domain.ErrNotBookedByYou.
//
// Update reescribe los atributos descriptivos y, si status no es nil, fija el
// estado y libera al titular en la misma escritura. in-use no es un status
// válido para Update.
type StationRepository interface {
	Create(ctx context.Context, station domain.Station) error
	GetByID(ctx context.Context, id string) (domain.Station, error)
	GetByHolder(ctx context.Context, accountID string) (domain.Station, error)
	List(ctx context.Context, filter domain.StationFilter) ([]domain.Station, error)
	Update(ctx context.Context, station domain.Station, status *domain.StationStatus) (domain.Station, error)
	Delete(ctx context.Context, id string) (domain.Station, error)
	Book(ctx context.Context, id, accountID string) (domain.Station, error)
	Release(ctx context.Context, id, accountID string) (domain.Station, error)
}

type PgStationRepository struct {
	pool *pgxpool.Pool
}

func NewPgStationRepository(pool *pgxpool.Pool) *PgStationRepository {
	return &PgStationRepository{pool: pool}
}

const stationColumns = `
	id::text, name, ST_X(location::geometry), ST_Y(location::geometry), address,
	connector_type, power_output, price_per_kwh, opens_at, closes_at, amenities,
	status, booked_by::text, created_at, updated_at`

func (r *PgStationRepository) Create(ctx context.Context, s domain.Station) error {
	const query = `
		INSERT INTO stations (
			id, name, location, address, connector_type, power_output, price_per_kwh,
			opens_at, closes_at, amenities, status, booked_by, created_at, updated_at
		)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		s.Location.Lng,
		s.Location.Lat,
		s.Address,
		string(s.ConnectorType),
		s.PowerOutput,
		s.PricePerKWh,
		s.OperatingHours.Open,
		s.OperatingHours.Close,
		nonNilStrings(s.Amenities),
		string(s.Status),
		s.BookedBy,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (r *PgStationRepository) GetByID(ctx context.Context, id string) (domain.Station, error) {
	if !validID(id) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	query := `SELECT ` + stationColumns + ` FROM stations WHERE id = $1`
	return scanStation(r.pool.QueryRow(ctx, query, id))
}

func (r *PgStationRepository) GetByHolder(ctx context.Context, accountID string) (domain.Station, error) {
	if !validID(accountID) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	query := `SELECT ` + stationColumns + ` FROM stations WHERE booked_by = $1`
	return scanStation(r.pool.QueryRow(ctx, query, accountID))
}

func (r *PgStationRepository) List(ctx context.Context, filter domain.StationFilter) ([]domain.Station, error) {
	var (
		conds []string
		args  []any
		order = "created_at ASC"
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	switch area := filter.Area.(type) {
	case domain.Radius:
		center := fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography", arg(area.Center.Lng), arg(area.Center.Lat))
		conds = append(conds, fmt.Sprintf("ST_DWithin(location, %s, %s)", center, arg(area.Meters)))
		order = fmt.Sprintf("ST_Distance(location, %s) ASC", center)
	case domain.Box:
		envelope := fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s, 4326)",
			arg(area.Min.Lng), arg(area.Min.Lat), arg(area.Max.Lng), arg(area.Max.Lat))
		conds = append(conds, fmt.Sprintf("ST_Covers(%s, location::geometry)", envelope))
	}

	query := `SELECT ` + stationColumns + ` FROM stations`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + order

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := []domain.Station{}
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

func (r *PgStationRepository) Update(ctx context.Context, s domain.Station, status *domain.StationStatus) (domain.Station, error) {
	if err := checkAdminStatus(status); err != nil {
		return domain.Station{}, err
	}
	if !validID(s.ID) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	var newStatus *string
	if status != nil {
		raw := string(*status)
		newStatus = &raw
	}
	query := `
		UPDATE stations
		SET name = $2,
		    location = ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography,
		    address = $5,
		    connector_type = $6,
		    power_output = $7,
		    price_per_kwh = $8,
		    opens_at = $9,
		    closes_at = $10,
		    amenities = $11,
		    updated_at = $12,
		    status = COALESCE($13::text, status),
		    booked_by = CASE WHEN $13::text IS NULL THEN booked_by ELSE NULL END
		WHERE id = $1
		RETURNING ` + stationColumns
	return scanStation(r.pool.QueryRow(ctx, query,
		s.ID,
		s.Name,
		s.Location.Lng,
		s.Location.Lat,
		s.Address,
		string(s.ConnectorType),
		s.PowerOutput,
		s.PricePerKWh,
		s.OperatingHours.Open,
		s.OperatingHours.Close,
		nonNilStrings(s.Amenities),
		time.Now().UTC(),
		newStatus,
	))
}

// checkAdminStatus rechaza in-use: solo se alcanza reservando.
func checkAdminStatus(status *domain.StationStatus) error {
	if status != nil && *status == domain.StatusInUse {
		return domain.NewValidationError("status", "in-use can only be reached by booking")
	}
	return nil
}

func (r *PgStationRepository) Delete(ctx context.Context, id string) (domain.Station, error) {
	if !validID(id) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	query := `DELETE FROM stations WHERE id = $1 RETURNING ` + stationColumns
	return scanStation(r.pool.QueryRow(ctx, query, id))
}

// Book depende del índice único parcial sobre booked_by: dos reservas
// concurrentes de la misma cuenta no pueden confirmar ambas.
func (r *PgStationRepository) Book(ctx context.Context, id, accountID string) (domain.Station, error) {
	if !validID(id) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	query := `
		UPDATE stations
		SET status = 'in-use', booked_by = $2, updated_at = $3
		WHERE id = $1 AND status = 'available'
		RETURNING ` + stationColumns
	s, err := scanStation(r.pool.QueryRow(ctx, query, id, accountID, time.Now().UTC()))
	switch {
	case err == nil:
		return s, nil
	case isUniqueViolation(err, bookedByConstraint):
		return domain.Station{}, ErrHolderBusy
	case errors.Is(err, domain.ErrStationNotFound):
		return domain.Station{}, r.missOrState(ctx, id, domain.ErrNotAvailable)
	default:
		return domain.Station{}, err
	}
}

func (r *PgStationRepository) Release(ctx context.Context, id, accountID string) (domain.Station, error) {
	if !validID(id) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if !validID(accountID) {
		return domain.Station{}, r.missOrState(ctx, id, domain.ErrNotBookedByYou)
	}
	query := `
		UPDATE stations
		SET status = 'available', booked_by = NULL, updated_at = $3
		WHERE id = $1 AND status = 'in-use' AND booked_by = $2
		RETURNING ` + stationColumns
	s, err := scanStation(r.pool.QueryRow(ctx, query, id, accountID, time.Now().UTC()))
	if errors.Is(err, domain.ErrStationNotFound) {
		return domain.Station{}, r.missOrState(ctx, id, domain.ErrNotBookedByYou)
	}
	return s, err
}

// missOrState distingue, tras una escritura condicional sin filas, entre una
// estación inexistente y una en estado incompatible.
func (r *PgStationRepository) missOrState(ctx context.Context, id string, stateErr error) error {
	const query = `SELECT EXISTS (SELECT 1 FROM stations WHERE id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrStationNotFound
	}
	return stateErr
}

func scanStation(row pgx.Row) (domain.Station, error) {
	var (
		s         domain.Station
		connector string
		status    string
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Location.Lng,
		&s.Location.Lat,
		&s.Address,
		&connector,
		&s.PowerOutput,
		&s.PricePerKWh,
		&s.OperatingHours.Open,
		&s.OperatingHours.Close,
		&s.Amenities,
		&status,
		&s.BookedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if err != nil {
		return domain.Station{}, err
	}
	s.ConnectorType = domain.ConnectorType(connector)
	s.Status = domain.StationStatus(status)
	return s, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
