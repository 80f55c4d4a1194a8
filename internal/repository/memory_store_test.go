package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcharge/internal/domain"
)

func seedStation(t *testing.T, repo *MemoryStationRepository, id string, loc domain.Point, status domain.StationStatus) {
	t.Helper()
	err := repo.Create(context.Background(), domain.Station{
		ID:        id,
		Name:      id,
		Location:  loc,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestMemoryStationRepository_BookRelease(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStationRepository()
	seedStation(t, repo, "s1", domain.Point{}, domain.StatusAvailable)
	seedStation(t, repo, "s2", domain.Point{}, domain.StatusAvailable)
	seedStation(t, repo, "s3", domain.Point{}, domain.StatusMaintenance)

	got, err := repo.Book(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if got.Status != domain.StatusInUse || !got.HeldBy("a") {
		t.Fatalf("unexpected booked station: %+v", got)
	}

	if _, err := repo.Book(ctx, "s1", "b"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := repo.Book(ctx, "s2", "a"); !errors.Is(err, ErrHolderBusy) {
		t.Fatalf("expected holder busy, got %v", err)
	}
	if _, err := repo.Book(ctx, "s3", "b"); !errors.Is(err, domain.ErrNotAvailable) {
		t.Fatalf("expected not available, got %v", err)
	}
	if _, err := repo.Book(ctx, "missing", "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	held, err := repo.GetByHolder(ctx, "a")
	if err != nil || held.ID != "s1" {
		t.Fatalf("expected holder lookup to return s1, got %+v, %v", held, err)
	}

	if _, err := repo.Release(ctx, "s1", "b"); !errors.Is(err, domain.ErrNotBookedByYou) {
		t.Fatalf("expected not booked by you, got %v", err)
	}
	released, err := repo.Release(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released.Status != domain.StatusAvailable || released.BookedBy != nil {
		t.Fatalf("unexpected released station: %+v", released)
	}
	if _, err := repo.GetByHolder(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no holder after release, got %v", err)
	}
}

func TestMemoryStationRepository_UpdateStatusClearsHolder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStationRepository()
	seedStation(t, repo, "s1", domain.Point{}, domain.StatusAvailable)
	if _, err := repo.Book(ctx, "s1", "a"); err != nil {
		t.Fatalf("book failed: %v", err)
	}

	current, err := repo.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	inUse, maintenance := domain.StatusInUse, domain.StatusMaintenance
	if _, err := repo.Update(ctx, current, &inUse); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for in-use, got %v", err)
	}
	// Sin status, Update no toca la reserva.
	current.Name = "renombrada"
	kept, err := repo.Update(ctx, current, nil)
	if err != nil || kept.Status != domain.StatusInUse || !kept.HeldBy("a") {
		t.Fatalf("descriptive update must keep the booking: %+v, %v", kept, err)
	}
	current.Name = "en obras"
	got, err := repo.Update(ctx, current, &maintenance)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.BookedBy != nil || got.Status != domain.StatusMaintenance || got.Name != "en obras" {
		t.Fatalf("expected holder cleared with fields applied: %+v", got)
	}
	// La cuenta vuelve a poder reservar otra estación.
	seedStation(t, repo, "s2", domain.Point{}, domain.StatusAvailable)
	if _, err := repo.Book(ctx, "s2", "a"); err != nil {
		t.Fatalf("expected rebook after force release, got %v", err)
	}
}

func TestMemoryStationRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStationRepository()
	madrid := domain.Point{Lng: -3.7038, Lat: 40.4168}
	seedStation(t, repo, "centro", madrid, domain.StatusAvailable)
	seedStation(t, repo, "cerca", domain.Point{Lng: -3.69, Lat: 40.42}, domain.StatusOffline)
	seedStation(t, repo, "lejos", domain.Point{Lng: 2.1734, Lat: 41.3851}, domain.StatusAvailable)

	all, _ := repo.List(ctx, domain.StationFilter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 stations, got %d", len(all))
	}

	near, _ := repo.List(ctx, domain.StationFilter{Area: domain.Radius{Center: madrid, Meters: 5000}})
	if len(near) != 2 || near[0].ID != "centro" {
		t.Fatalf("expected centro then cerca, got %+v", near)
	}

	avail, _ := repo.List(ctx, domain.StationFilter{
		Status: domain.StatusAvailable,
		Area:   domain.Box{Min: domain.Point{Lng: -10, Lat: 35}, Max: domain.Point{Lng: 0, Lat: 45}},
	})
	if len(avail) != 1 || avail[0].ID != "centro" {
		t.Fatalf("expected only centro, got %+v", avail)
	}
}

func TestMemoryAccountRepository_EmailUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()
	if err := repo.Create(ctx, domain.Account{ID: "a1", Email: "Ana@Example.com"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, domain.Account{ID: "a2", Email: " ana@example.com "}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	got, err := repo.GetByEmail(ctx, "ANA@example.com")
	if err != nil || got.ID != "a1" {
		t.Fatalf("expected case-insensitive lookup, got %+v, %v", got, err)
	}

	_ = repo.Create(ctx, domain.Account{ID: "a2", Email: "bob@example.com"})
	if err := repo.UpdateEmail(ctx, "a2", "ana@example.com", time.Now()); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	if err := repo.UpdateEmail(ctx, "a2", "roberto@example.com", time.Now()); err != nil {
		t.Fatalf("update email failed: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "bob@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("old email should be free, got %v", err)
	}
}

func TestHaversineMeters(t *testing.T) {
	madrid := domain.Point{Lng: -3.7038, Lat: 40.4168}
	barcelona := domain.Point{Lng: 2.1734, Lat: 41.3851}
	d := haversineMeters(madrid, barcelona)
	if d < 500000 || d > 510000 {
		t.Fatalf("unexpected madrid-barcelona distance %.0f", d)
	}
	if haversineMeters(madrid, madrid) != 0 {
		t.Fatalf("expected zero distance to self")
	}
}
