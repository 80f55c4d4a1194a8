package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"evcharge/internal/domain"
	"evcharge/internal/events"
	"evcharge/internal/repository"
)

// BookingService aplica las transiciones available <-> in-use. Cada
// transición es una única escritura condicional del repositorio; el
// diagnóstico de un fallo se hace después y no muta nada.
type BookingService struct {
	logger   *zap.Logger
	stations repository.StationRepository
	events   events.Publisher
}

func NewBookingService(logger *zap.Logger, stations repository.StationRepository, publisher events.Publisher) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &BookingService{logger: logger, stations: stations, events: publisher}
}

func (s *BookingService) Book(ctx context.Context, stationID, accountID string) (domain.Station, error) {
	station, err := s.stations.Book(ctx, stationID, accountID)
	if errors.Is(err, repository.ErrHolderBusy) {
		err = s.conflictFor(ctx, accountID)
	}
	if err != nil {
		s.logRejection("book", stationID, accountID, err)
		return domain.Station{}, err
	}
	s.logger.Info("station booked", zap.String("station_id", station.ID), zap.String("account_id", accountID))
	s.events.Publish(ctx, events.FromStation(events.KindBooked, station))
	return station, nil
}

func (s *BookingService) Release(ctx context.Context, stationID, accountID string) (domain.Station, error) {
	station, err := s.stations.Release(ctx, stationID, accountID)
	if err != nil {
		s.logRejection("release", stationID, accountID, err)
		return domain.Station{}, err
	}
	s.logger.Info("station released", zap.String("station_id", station.ID), zap.String("account_id", accountID))
	s.events.Publish(ctx, events.FromStation(events.KindReleased, station))
	return station, nil
}

// conflictFor nombra la estación que retiene la cuenta. Si ya la liberó entre
// la escritura y la consulta, el conflicto se informa sin nombre.
func (s *BookingService) conflictFor(ctx context.Context, accountID string) error {
	held, err := s.stations.GetByHolder(ctx, accountID)
	switch {
	case err == nil:
		return &domain.ConflictError{HeldStationID: held.ID, HeldStationName: held.Name}
	case errors.Is(err, domain.ErrNotFound):
		return &domain.ConflictError{HeldStationName: "another station"}
	default:
		return err
	}
}

func (s *BookingService) logRejection(op, stationID, accountID string, err error) {
	if isStoreFailure(err) {
		return
	}
	s.logger.Debug("booking rejected",
		zap.String("op", op),
		zap.String("station_id", stationID),
		zap.String("account_id", accountID),
		zap.Error(err),
	)
}
