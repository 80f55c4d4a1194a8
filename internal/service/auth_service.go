package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcharge/internal/domain"
	"evcharge/internal/repository"
)

const (
	AuthModeSession   = "session"
	AuthModeStateless = "stateless"

	minPasswordLength = 6
)

var ErrRateLimited = errors.New("too many login attempts, try again later")

// AuthService registra cuentas, abre y cierra sesiones y resuelve tokens
// bearer a identidades.
type AuthService struct {
	logger   *zap.Logger
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	hasher   PasswordHasher
	tokens   *JWTService
	limiter  LoginRateLimiter
	mode     string
	now      func() time.Time
}

func NewAuthService(
	logger *zap.Logger,
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hasher PasswordHasher,
	tokens *JWTService,
	limiter LoginRateLimiter,
	mode string,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode != AuthModeStateless {
		mode = AuthModeSession
	}
	return &AuthService{
		logger:   logger,
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		limiter:  limiter,
		mode:     mode,
		now:      time.Now,
	}
}

// AuthResult es lo que devuelven register y login.
type AuthResult struct {
	Account   domain.Account `json:"user"`
	Token     string         `json:"token"`
	SessionID string         `json:"session_id"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (s *AuthService) Mode() string {
	return s.mode
}

// Register crea una cuenta con rol user y abre su primera sesión.
func (s *AuthService) Register(ctx context.Context, email, password string) (AuthResult, error) {
	email = domain.NormalizeEmail(email)
	v := &domain.ValidationError{}
	validateEmail(v, email)
	validatePassword(v, password)
	if err := v.Err(); err != nil {
		return AuthResult{}, err
	}

	account, err := s.createAccount(ctx, email, password, domain.RoleUser)
	if err != nil {
		return AuthResult{}, err
	}
	s.logger.Info("account registered", zap.String("account_id", account.ID))
	return s.startSession(ctx, account)
}

// Login verifica credenciales. Si role no está vacío debe coincidir con el de
// la cuenta.
func (s *AuthService) Login(ctx context.Context, email, password, role string) (AuthResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, domain.ErrBadCredentials
	}
	if s.limiter != nil && !s.limiter.Allow(ctx, email) {
		return AuthResult{}, ErrRateLimited
	}

	var wanted domain.Role
	if strings.TrimSpace(role) != "" {
		r, ok := domain.ParseRole(role)
		if !ok {
			return AuthResult{}, domain.NewValidationError("role", "must be user or admin")
		}
		wanted = r
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return AuthResult{}, s.loginFailed(ctx, email)
	}
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return AuthResult{}, s.loginFailed(ctx, email)
	}
	if wanted != "" && account.Role != wanted {
		return AuthResult{}, domain.ErrRoleMismatch
	}
	return s.startSession(ctx, account)
}

// loginFailed cuenta el fallo para el limitador. Solo las credenciales
// incorrectas consumen cupo.
func (s *AuthService) loginFailed(ctx context.Context, email string) error {
	if s.limiter != nil {
		s.limiter.RecordFailure(ctx, email)
	}
	return domain.ErrBadCredentials
}

// Logout desactiva la sesión del token. Desactivar dos veces no es un error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	err := s.sessions.Deactivate(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrSessionExpired
	}
	return err
}

// Resolve es el gate de autorización en el modo configurado.
func (s *AuthService) Resolve(ctx context.Context, token string) (domain.Identity, error) {
	return s.resolve(ctx, token, s.mode == AuthModeSession)
}

// ResolveSession exige siempre una sesión activa, sea cual sea el modo.
func (s *AuthService) ResolveSession(ctx context.Context, token string) (domain.Identity, error) {
	return s.resolve(ctx, token, true)
}

func (s *AuthService) resolve(ctx context.Context, token string, withSession bool) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}
	claims, err := s.tokens.Parse(token)
	switch {
	case errors.Is(err, ErrJWTExpired):
		return domain.Identity{}, domain.ErrTokenExpired
	case err != nil:
		return domain.Identity{}, domain.ErrInvalidToken
	}

	identity := domain.Identity{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}
	if !withSession {
		return identity, nil
	}

	session, err := s.sessions.GetByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrSessionExpired
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if session.AccountID != claims.AccountID || (claims.SessionID != "" && session.ID != claims.SessionID) {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if !session.Usable(s.now()) {
		return domain.Identity{}, domain.ErrSessionExpired
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if err != nil {
		return domain.Identity{}, err
	}

	// El rol almacenado manda sobre el del token.
	identity.Email = account.Email
	identity.Role = account.Role
	identity.SessionID = session.ID
	identity.Session = &session
	identity.Account = &account
	return identity, nil
}

func (s *AuthService) Me(ctx context.Context, identity domain.Identity) (domain.Account, error) {
	if identity.Account != nil {
		return *identity.Account, nil
	}
	return s.accounts.GetByID(ctx, identity.AccountID)
}

// ProfileUpdate lleva solo los campos a cambiar.
type ProfileUpdate struct {
	Email    *string
	Password *string
}

func (s *AuthService) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (domain.Account, error) {
	v := &domain.ValidationError{}
	if update.Email == nil && update.Password == nil {
		v.Add("body", "no updates provided")
	}
	var email string
	if update.Email != nil {
		email = domain.NormalizeEmail(*update.Email)
		validateEmail(v, email)
	}
	if update.Password != nil {
		validatePassword(v, *update.Password)
	}
	if err := v.Err(); err != nil {
		return domain.Account{}, err
	}

	now := s.now().UTC()
	if update.Email != nil {
		if err := s.accounts.UpdateEmail(ctx, accountID, email, now); err != nil {
			return domain.Account{}, err
		}
	}
	if update.Password != nil {
		hash, err := s.hasher.Hash(*update.Password)
		if err != nil {
			return domain.Account{}, err
		}
		if err := s.accounts.UpdatePassword(ctx, accountID, hash, now); err != nil {
			return domain.Account{}, err
		}
	}
	return s.accounts.GetByID(ctx, accountID)
}

func (s *AuthService) SessionInfo(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

// SetChargerInUse actualiza el puntero informativo de la sesión. No toca el
// registro de estaciones.
func (s *AuthService) SetChargerInUse(ctx context.Context, sessionID string, stationID *string) error {
	return s.sessions.SetChargerInUse(ctx, sessionID, stationID)
}

// EnsureAdmin crea la cuenta admin o promueve una existente y le fija la
// contraseña dada.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (domain.Account, bool, error) {
	email = domain.NormalizeEmail(email)
	v := &domain.ValidationError{}
	validateEmail(v, email)
	validatePassword(v, password)
	if err := v.Err(); err != nil {
		return domain.Account{}, false, err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		account, err := s.createAccount(ctx, email, password, domain.RoleAdmin)
		return account, err == nil, err
	}
	if err != nil {
		return domain.Account{}, false, err
	}

	now := s.now().UTC()
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.Account{}, false, err
	}
	if err := s.accounts.UpdatePassword(ctx, existing.ID, hash, now); err != nil {
		return domain.Account{}, false, err
	}
	if err := s.accounts.UpdateRole(ctx, existing.ID, domain.RoleAdmin, now); err != nil {
		return domain.Account{}, false, err
	}
	account, err := s.accounts.GetByID(ctx, existing.ID)
	return account, false, err
}

func (s *AuthService) createAccount(ctx context.Context, email, password string, role domain.Role) (domain.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.Account{}, err
	}
	now := s.now().UTC()
	account := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

func (s *AuthService) startSession(ctx context.Context, account domain.Account) (AuthResult, error) {
	sessionID := uuid.NewString()
	token, expiresAt, err := s.tokens.Issue(account, sessionID)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.now().UTC()
	session := domain.Session{
		ID:        sessionID,
		AccountID: account.ID,
		Token:     token,
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Account:   account,
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}, nil
}

func validateEmail(v *domain.ValidationError, email string) {
	if email == "" {
		v.Add("email", "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		v.Add("email", "is not a valid address")
	}
}

func validatePassword(v *domain.ValidationError, password string) {
	if len(password) < minPasswordLength {
		v.Add("password", "must be at least 6 characters")
	}
}
