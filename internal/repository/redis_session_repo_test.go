package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"evcharge/internal/domain"
)

type mockRedisKV struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
	// beforeEval corre justo antes de aplicar un script, como haría otra
	// escritura que llega entre la búsqueda y la actualización.
	beforeEval func()
}

func newMockRedisKV() *mockRedisKV {
	return &mockRedisKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockRedisKV) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *mockRedisKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	if expiration != redis.KeepTTL {
		m.ttls[key] = expiration
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

// Eval reproduce redisSessionUpdateScript sobre el mapa en memoria.
func (m *mockRedisKV) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if hook := m.beforeEval; hook != nil {
		m.beforeEval = nil
		hook()
	}
	cmd := redis.NewCmd(ctx)
	raw, ok := m.values[keys[0]]
	if !ok {
		cmd.SetVal(int64(0))
		return cmd
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	switch args[0] {
	case sessionOpDeactivate:
		rec["is_active"] = false
	case sessionOpCharger:
		if args[1] == "" {
			delete(rec, "charger_in_use")
		} else {
			rec["charger_in_use"] = args[1]
		}
	}
	rec["updated_at"] = args[2]
	out, _ := json.Marshal(rec)
	m.values[keys[0]] = string(out)
	cmd.SetVal(int64(1))
	return cmd
}

func newTestRedisSessions(kv *mockRedisKV, now time.Time) *RedisSessionRepository {
	return &RedisSessionRepository{client: kv, now: func() time.Time { return now }}
}

func TestRedisSessionRepository_CreateAndLookup(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)

	session := domain.Session{
		ID:        "s1",
		AccountID: "a1",
		Token:     "tok",
		Active:    true,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if kv.ttls["sessions:token:tok"] != 24*time.Hour {
		t.Fatalf("expected ttl until expiry, got %v", kv.ttls["sessions:token:tok"])
	}
	if kv.values["sessions:id:s1"] != "tok" {
		t.Fatalf("expected id index to point at token, got %q", kv.values["sessions:id:s1"])
	}

	got, err := repo.GetByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("get by token failed: %v", err)
	}
	if got.Token != "tok" || got.AccountID != "a1" || !got.Active {
		t.Fatalf("unexpected session: %+v", got)
	}

	byID, err := repo.GetByID(context.Background(), "s1")
	if err != nil || byID.Token != "tok" {
		t.Fatalf("get by id: %+v, %v", byID, err)
	}
}

func TestRedisSessionRepository_DeactivateKeepsTTL(t *testing.T) {
	now := time.Now().UTC()
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)
	_ = repo.Create(context.Background(), domain.Session{ID: "s1", Token: "tok", Active: true, ExpiresAt: now.Add(time.Hour)})

	if err := repo.Deactivate(context.Background(), "tok"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if kv.ttls["sessions:token:tok"] != time.Hour {
		t.Fatalf("deactivate must not reset ttl, got %v", kv.ttls["sessions:token:tok"])
	}
	got, _ := repo.GetByToken(context.Background(), "tok")
	if got.Active {
		t.Fatalf("expected inactive session")
	}
}

func TestRedisSessionRepository_ChargerPointer(t *testing.T) {
	now := time.Now().UTC()
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)
	_ = repo.Create(context.Background(), domain.Session{ID: "s1", Token: "tok", Active: true, ExpiresAt: now.Add(time.Hour)})

	station := "st-1"
	if err := repo.SetChargerInUse(context.Background(), "s1", &station); err != nil {
		t.Fatalf("set charger failed: %v", err)
	}
	got, _ := repo.GetByID(context.Background(), "s1")
	if got.ChargerInUse == nil || *got.ChargerInUse != "st-1" {
		t.Fatalf("expected charger pointer, got %+v", got.ChargerInUse)
	}

	if err := repo.SetChargerInUse(context.Background(), "s1", nil); err != nil {
		t.Fatalf("clear charger failed: %v", err)
	}
	got, _ = repo.GetByID(context.Background(), "s1")
	if got.ChargerInUse != nil {
		t.Fatalf("expected cleared pointer, got %v", *got.ChargerInUse)
	}
}

func TestRedisSessionRepository_MissingAndErrors(t *testing.T) {
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, time.Now())

	if _, err := repo.GetByToken(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Deactivate(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on deactivate, got %v", err)
	}
	if err := repo.SetChargerInUse(context.Background(), "missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on charger update, got %v", err)
	}

	kv.getErr = errors.New("connection refused")
	if _, err := repo.GetByToken(context.Background(), "tok"); err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

func TestRedisSessionRepository_SkipsExpiredSessions(t *testing.T) {
	now := time.Now()
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)
	if err := repo.Create(context.Background(), domain.Session{ID: "s1", Token: "old", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if len(kv.values) != 0 {
		t.Fatalf("expected nothing stored, got %v", kv.values)
	}
}

func TestRedisSessionRepository_ChargerUpdateKeepsConcurrentLogout(t *testing.T) {
	now := time.Now().UTC()
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)
	_ = repo.Create(context.Background(), domain.Session{ID: "s1", Token: "tok", Active: true, ExpiresAt: now.Add(time.Hour)})

	// El logout llega después de resolver el token y antes de escribir el puntero.
	kv.beforeEval = func() {
		if err := repo.Deactivate(context.Background(), "tok"); err != nil {
			t.Fatalf("deactivate failed: %v", err)
		}
	}
	station := "st-1"
	if err := repo.SetChargerInUse(context.Background(), "s1", &station); err != nil {
		t.Fatalf("set charger failed: %v", err)
	}

	got, err := repo.GetByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Active {
		t.Fatalf("charger update must not reactivate a logged out session")
	}
	if got.ChargerInUse == nil || *got.ChargerInUse != "st-1" {
		t.Fatalf("expected charger pointer to be stored, got %+v", got.ChargerInUse)
	}
}

func TestRedisSessionRepository_UpdateDoesNotRecreateExpiredKey(t *testing.T) {
	now := time.Now().UTC()
	kv := newMockRedisKV()
	repo := newTestRedisSessions(kv, now)
	_ = repo.Create(context.Background(), domain.Session{ID: "s1", Token: "tok", Active: true, ExpiresAt: now.Add(time.Hour)})

	// La clave del token expira mientras el índice por id sigue vivo.
	delete(kv.values, "sessions:token:tok")
	station := "st-1"
	if err := repo.SetChargerInUse(context.Background(), "s1", &station); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := kv.values["sessions:token:tok"]; ok {
		t.Fatalf("update must not recreate an expired session key")
	}
}
