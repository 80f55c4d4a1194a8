package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcharge/internal/domain"
	"evcharge/internal/events"
	"evcharge/internal/repository"
)

const (
	defaultPowerOutput = 50
	defaultPricePerKWh = 0.35
	defaultOpens       = "00:00"
	defaultCloses      = "23:59"
)

// StationInput lleva los campos enviados por el cliente; nil significa
// ausente. En una actualización solo cambian los campos presentes.
type StationInput struct {
	Name           *string
	Longitude      *float64
	Latitude       *float64
	Address        *string
	ConnectorType  *string
	PowerOutput    *float64
	PricePerKWh    *float64
	OperatingHours *domain.OperatingHours
	Amenities      *[]string
	Status         *string
}

// StationService valida y aplica las escrituras administrativas del registro.
type StationService struct {
	logger   *zap.Logger
	stations repository.StationRepository
	events   events.Publisher
}

func NewStationService(logger *zap.Logger, stations repository.StationRepository, publisher events.Publisher) *StationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &StationService{logger: logger, stations: stations, events: publisher}
}

func (s *StationService) Create(ctx context.Context, in StationInput) (domain.Station, error) {
	now := time.Now().UTC()
	station := domain.Station{
		ID:             uuid.NewString(),
		ConnectorType:  domain.ConnectorType2,
		PowerOutput:    defaultPowerOutput,
		PricePerKWh:    defaultPricePerKWh,
		OperatingHours: domain.OperatingHours{Open: defaultOpens, Close: defaultCloses},
		Amenities:      []string{},
		Status:         domain.StatusAvailable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	v := &domain.ValidationError{}
	if in.Name == nil {
		v.Add("name", "is required")
	}
	if in.Address == nil {
		v.Add("address", "is required")
	}
	if in.Longitude == nil || in.Latitude == nil {
		v.Add("location", "latitude and longitude are required")
	}
	applyStationInput(v, &station, in)
	if station.Status == domain.StatusInUse {
		v.Add("status", "in-use can only be reached by booking")
	}
	if err := v.Err(); err != nil {
		return domain.Station{}, err
	}

	if err := s.stations.Create(ctx, station); err != nil {
		return domain.Station{}, err
	}
	s.logger.Info("station created", zap.String("station_id", station.ID), zap.String("name", station.Name))
	s.events.Publish(ctx, events.FromStation(events.KindCreated, station))
	return station, nil
}

func (s *StationService) Get(ctx context.Context, id string) (domain.Station, error) {
	return s.stations.GetByID(ctx, id)
}

func (s *StationService) List(ctx context.Context, filter domain.StationFilter) ([]domain.Station, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown status")
	}
	return s.stations.List(ctx, filter)
}

// Update aplica una edición parcial. Un cambio de status es una edición
// administrativa directa: cualquier valor salvo in-use libera al titular.
func (s *StationService) Update(ctx context.Context, id string, in StationInput) (domain.Station, error) {
	current, err := s.stations.GetByID(ctx, id)
	if err != nil {
		return domain.Station{}, err
	}

	v := &domain.ValidationError{}
	if (in.Longitude == nil) != (in.Latitude == nil) {
		v.Add("location", "latitude and longitude must be provided together")
	}
	merged := current
	applyStationInput(v, &merged, in)
	statusChange := in.Status != nil && merged.Status != current.Status
	if statusChange && merged.Status == domain.StatusInUse {
		v.Add("status", "in-use can only be reached by booking")
	}
	if err := v.Err(); err != nil {
		return domain.Station{}, err
	}

	var status *domain.StationStatus
	if statusChange {
		status = &merged.Status
	}
	if status == nil && !in.hasDescriptiveFields() {
		return current, nil
	}
	// Campos y estado van en una sola escritura.
	result, err := s.stations.Update(ctx, merged, status)
	if err != nil {
		return domain.Station{}, err
	}
	if statusChange && current.BookedBy != nil {
		s.logger.Info("station booking cleared by admin",
			zap.String("station_id", id),
			zap.String("previous_holder", *current.BookedBy),
			zap.String("status", string(merged.Status)),
		)
	}
	s.events.Publish(ctx, events.FromStation(events.KindUpdated, result))
	return result, nil
}

func (s *StationService) Delete(ctx context.Context, id string) (domain.Station, error) {
	station, err := s.stations.Delete(ctx, id)
	if err != nil {
		return domain.Station{}, err
	}
	s.logger.Info("station deleted", zap.String("station_id", id))
	s.events.Publish(ctx, events.FromStation(events.KindDeleted, station))
	return station, nil
}

func (in StationInput) hasDescriptiveFields() bool {
	return in.Name != nil || in.Longitude != nil || in.Latitude != nil || in.Address != nil ||
		in.ConnectorType != nil || in.PowerOutput != nil || in.PricePerKWh != nil ||
		in.OperatingHours != nil || in.Amenities != nil
}

// applyStationInput copia y valida los campos presentes sobre station.
func applyStationInput(v *domain.ValidationError, station *domain.Station, in StationInput) {
	if in.Name != nil {
		station.Name = strings.TrimSpace(*in.Name)
		if station.Name == "" {
			v.Add("name", "is required")
		}
	}
	if in.Address != nil {
		station.Address = strings.TrimSpace(*in.Address)
		if station.Address == "" {
			v.Add("address", "is required")
		}
	}
	if in.Longitude != nil {
		if *in.Longitude < -180 || *in.Longitude > 180 {
			v.Add("longitude", "must be between -180 and 180")
		}
		station.Location.Lng = *in.Longitude
	}
	if in.Latitude != nil {
		if *in.Latitude < -90 || *in.Latitude > 90 {
			v.Add("latitude", "must be between -90 and 90")
		}
		station.Location.Lat = *in.Latitude
	}
	if in.ConnectorType != nil {
		station.ConnectorType = domain.ConnectorType(strings.TrimSpace(*in.ConnectorType))
		if !station.ConnectorType.Valid() {
			v.Add("connector_type", "must be one of Type 1, Type 2, CCS, CHAdeMO, Tesla")
		}
	}
	if in.PowerOutput != nil {
		if *in.PowerOutput < 0 {
			v.Add("power_output", "must not be negative")
		}
		station.PowerOutput = *in.PowerOutput
	}
	if in.PricePerKWh != nil {
		if *in.PricePerKWh < 0 {
			v.Add("price_per_kwh", "must not be negative")
		}
		station.PricePerKWh = *in.PricePerKWh
	}
	if in.OperatingHours != nil {
		hours := domain.OperatingHours{
			Open:  strings.TrimSpace(in.OperatingHours.Open),
			Close: strings.TrimSpace(in.OperatingHours.Close),
		}
		if !validClock(hours.Open) {
			v.Add("operating_hours.open", "must be HH:MM")
		}
		if !validClock(hours.Close) {
			v.Add("operating_hours.close", "must be HH:MM")
		}
		station.OperatingHours = hours
	}
	if in.Amenities != nil {
		station.Amenities = normalizeAmenities(*in.Amenities)
	}
	if in.Status != nil {
		station.Status = domain.StationStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
		if !station.Status.Valid() {
			v.Add("status", "must be one of available, in-use, maintenance, offline")
		}
	}
}

func validClock(value string) bool {
	if len(value) != len("15:04") {
		return false
	}
	_, err := time.Parse("15:04", value)
	return err == nil
}

// normalizeAmenities trata la lista como un conjunto: sin vacíos ni repetidos.
func normalizeAmenities(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.StationEvent) {}

// isStoreFailure distingue errores inesperados del almacén de los de negocio.
func isStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrUnauthenticated,
		domain.ErrForbidden,
		domain.ErrConflict,
		domain.ErrInvalidTransition,
	} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}
