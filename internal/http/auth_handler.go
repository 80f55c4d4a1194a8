package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"evcharge/internal/domain"
	"evcharge/internal/service"
)

// AuthHandler expone registro, login y la sesión del usuario.
type AuthHandler struct {
	logger   *zap.Logger
	auth     *service.AuthService
	stations *service.StationService
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, stations *service.StationService) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		auth:     auth,
		stations: stations,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	result, err := h.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			h.logger.Warn("login rate limited", zap.String("client_ip", c.ClientIP()))
		}
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(tokenKey)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, _ := GetIdentity(c)
	account, err := h.auth.Me(c.Request.Context(), identity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": account})
}

// UpdateMe maneja PATCH /auth/me.
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	identity, _ := GetIdentity(c)
	account, err := h.auth.UpdateProfile(c.Request.Context(), identity.AccountID, service.ProfileUpdate{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully", "user": account})
}

// VerifyRole maneja GET /auth/verify-role.
func (h *AuthHandler) VerifyRole(c *gin.Context) {
	identity, _ := GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{"role": identity.Role})
}

// Session maneja GET /auth/session.
func (h *AuthHandler) Session(c *gin.Context) {
	identity, _ := GetIdentity(c)
	session, err := h.auth.SessionInfo(c.Request.Context(), identity.SessionID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	var charger *domain.Station
	if session.ChargerInUse != nil {
		station, err := h.stations.Get(c.Request.Context(), *session.ChargerInUse)
		switch {
		case err == nil:
			charger = &station
		case errors.Is(err, domain.ErrNotFound):
			// El puntero es informativo; una estación borrada se muestra como null.
		default:
			writeError(c, h.logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"is_active":      session.Active,
		"expires_at":     session.ExpiresAt,
		"charger_in_use": charger,
	})
}

// SetCharger maneja PATCH /auth/session/charger.
func (h *AuthHandler) SetCharger(c *gin.Context) {
	var req struct {
		ChargerID *string `json:"charger_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	if req.ChargerID != nil {
		if _, err := h.stations.Get(c.Request.Context(), *req.ChargerID); err != nil {
			writeError(c, h.logger, err)
			return
		}
	}
	identity, _ := GetIdentity(c)
	if err := h.auth.SetChargerInUse(c.Request.Context(), identity.SessionID, req.ChargerID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Charger status updated"})
}
