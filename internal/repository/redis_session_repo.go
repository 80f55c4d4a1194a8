package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"evcharge/internal/domain"
)

const (
	redisSessionTokenPrefix = "sessions:token:"
	redisSessionIDPrefix    = "sessions:id:"
	redisSessionTimeout     = 500 * time.Millisecond
)

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

const (
	sessionOpDeactivate = "deactivate"
	sessionOpCharger    = "charger"
)

// redisSessionUpdateScript cambia un solo campo dentro de Redis. Si la clave
// ya no existe devuelve 0 y no crea nada; KEEPTTL conserva la expiración.
const redisSessionUpdateScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if ARGV[1] == "deactivate" then
  rec["is_active"] = false
elseif ARGV[1] == "charger" then
  if ARGV[2] == "" then
    rec["charger_in_use"] = nil
  else
    rec["charger_in_use"] = ARGV[2]
  end
end
rec["updated_at"] = ARGV[3]
redis.call("SET", KEYS[1], cjson.encode(rec), "KEEPTTL")
return 1
`

// RedisSessionRepository guarda cada sesión como JSON bajo su token, con TTL
// hasta la expiración, y un índice id -> token para GetByID.
type RedisSessionRepository struct {
	client redisKV
	now    func() time.Time
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	if client == nil {
		return nil
	}
	return &RedisSessionRepository{client: client, now: time.Now}
}

// redisSession incluye el token, que domain.Session no serializa.
type redisSession struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Token        string    `json:"token"`
	Active       bool      `json:"is_active"`
	ChargerInUse *string   `json:"charger_in_use,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toRedisSession(s domain.Session) redisSession {
	return redisSession{
		ID:           s.ID,
		AccountID:    s.AccountID,
		Token:        s.Token,
		Active:       s.Active,
		ChargerInUse: s.ChargerInUse,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (r redisSession) domain() domain.Session {
	return domain.Session{
		ID:           r.ID,
		AccountID:    r.AccountID,
		Token:        r.Token,
		Active:       r.Active,
		ChargerInUse: r.ChargerInUse,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session domain.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		// Una sesión ya expirada no es utilizable; no hace falta guardarla.
		return nil
	}
	payload, err := json.Marshal(toRedisSession(session))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, redisSessionTimeout)
	defer cancel()
	if err := r.client.Set(ctx, redisSessionTokenPrefix+session.Token, payload, ttl).Err(); err != nil {
		return err
	}
	return r.client.Set(ctx, redisSessionIDPrefix+session.ID, session.Token, ttl).Err()
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	token, err := r.tokenFor(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	return r.GetByToken(ctx, token)
}

func (r *RedisSessionRepository) GetByToken(ctx context.Context, token string) (domain.Session, error) {
	rec, err := r.load(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	return rec.domain(), nil
}

func (r *RedisSessionRepository) Deactivate(ctx context.Context, token string) error {
	return r.update(ctx, token, sessionOpDeactivate, "")
}

func (r *RedisSessionRepository) SetChargerInUse(ctx context.Context, id string, stationID *string) error {
	token, err := r.tokenFor(ctx, id)
	if err != nil {
		return err
	}
	var value string
	if stationID != nil {
		value = *stationID
	}
	return r.update(ctx, token, sessionOpCharger, value)
}

func (r *RedisSessionRepository) tokenFor(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisSessionTimeout)
	defer cancel()
	token, err := r.client.Get(ctx, redisSessionIDPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrSessionNotFound
	}
	return token, err
}

func (r *RedisSessionRepository) load(ctx context.Context, token string) (redisSession, error) {
	ctx, cancel := context.WithTimeout(ctx, redisSessionTimeout)
	defer cancel()
	raw, err := r.client.Get(ctx, redisSessionTokenPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return redisSession{}, err
	}
	var rec redisSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return redisSession{}, err
	}
	return rec, nil
}

// update aplica el cambio de un campo con un script, sin leer y reescribir
// desde el cliente: un logout concurrente no se pierde.
func (r *RedisSessionRepository) update(ctx context.Context, token, op, value string) error {
	ctx, cancel := context.WithTimeout(ctx, redisSessionTimeout)
	defer cancel()
	updatedAt := r.now().UTC().Format(time.RFC3339Nano)
	n, err := r.client.Eval(ctx, redisSessionUpdateScript, []string{redisSessionTokenPrefix + token}, op, value, updatedAt).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
