package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"evcharge/internal/domain"
	"evcharge/internal/service"
)

// StationHandler expone el registro de estaciones y las reservas.
type StationHandler struct {
	logger   *zap.Logger
	stations *service.StationService
	bookings *service.BookingService
	auth     *service.AuthService
}

// NewStationHandler crea una instancia de StationHandler. auth puede ser nil:
// en ese caso no se actualiza el puntero de la sesión tras reservar.
func NewStationHandler(
	logger *zap.Logger,
	stations *service.StationService,
	bookings *service.BookingService,
	auth *service.AuthService,
) *StationHandler {
	return &StationHandler{
		logger:   logger,
		stations: stations,
		bookings: bookings,
		auth:     auth,
	}
}

type locationRequest struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
}

type stationRequest struct {
	Name           *string                `json:"name"`
	Longitude      *float64               `json:"longitude"`
	Latitude       *float64               `json:"latitude"`
	Location       *locationRequest       `json:"location"`
	Address        *string                `json:"address"`
	ConnectorType  *string                `json:"connector_type"`
	PowerOutput    *float64               `json:"power_output"`
	PricePerKWh    *float64               `json:"price_per_kwh"`
	OperatingHours *domain.OperatingHours `json:"operating_hours"`
	Amenities      *[]string              `json:"amenities"`
	Status         *string                `json:"status"`
}

func (r stationRequest) input() service.StationInput {
	in := service.StationInput{
		Name:           r.Name,
		Longitude:      r.Longitude,
		Latitude:       r.Latitude,
		Address:        r.Address,
		ConnectorType:  r.ConnectorType,
		PowerOutput:    r.PowerOutput,
		PricePerKWh:    r.PricePerKWh,
		OperatingHours: r.OperatingHours,
		Amenities:      r.Amenities,
		Status:         r.Status,
	}
	if r.Location != nil {
		if in.Longitude == nil {
			in.Longitude = r.Location.Longitude
		}
		if in.Latitude == nil {
			in.Latitude = r.Location.Latitude
		}
	}
	return in
}

// stationResponse oculta el titular salvo para él mismo y para un admin.
type stationResponse struct {
	domain.Station
	BookedBy   *string `json:"booked_by,omitempty"`
	BookedByMe bool    `json:"booked_by_me"`
}

func stationView(c *gin.Context, s domain.Station) stationResponse {
	out := stationResponse{Station: s}
	identity, ok := GetIdentity(c)
	if !ok || identity.AccountID == "" {
		return out
	}
	out.BookedByMe = s.HeldBy(identity.AccountID)
	if out.BookedByMe || identity.Role == domain.RoleAdmin {
		out.BookedBy = s.BookedBy
	}
	return out
}

func stationViews(c *gin.Context, stations []domain.Station) []stationResponse {
	out := make([]stationResponse, 0, len(stations))
	for _, s := range stations {
		out = append(out, stationView(c, s))
	}
	return out
}

// List maneja GET /stations.
func (h *StationHandler) List(c *gin.Context) {
	filter, err := parseStationFilter(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	stations, err := h.stations.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stationViews(c, stations))
}

// Get maneja GET /stations/:id.
func (h *StationHandler) Get(c *gin.Context) {
	station, err := h.stations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stationView(c, station))
}

// Create maneja POST /stations.
func (h *StationHandler) Create(c *gin.Context) {
	var req stationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	station, err := h.stations.Create(c.Request.Context(), req.input())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Charging station created successfully", "station": stationView(c, station)})
}

// Update maneja PATCH y PUT /stations/:id. Ambos son parciales.
func (h *StationHandler) Update(c *gin.Context) {
	var req stationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	station, err := h.stations.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Station updated successfully", "station": stationView(c, station)})
}

// Delete maneja DELETE /stations/:id.
func (h *StationHandler) Delete(c *gin.Context) {
	if _, err := h.stations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Charging station deleted successfully"})
}

// Book maneja POST /stations/:id/book.
func (h *StationHandler) Book(c *gin.Context) {
	identity, _ := GetIdentity(c)
	station, err := h.bookings.Book(c.Request.Context(), c.Param("id"), identity.AccountID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.syncCharger(c, identity, &station.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Charging station booked successfully", "station": stationView(c, station)})
}

// Release maneja POST /stations/:id/release.
func (h *StationHandler) Release(c *gin.Context) {
	identity, _ := GetIdentity(c)
	station, err := h.bookings.Release(c.Request.Context(), c.Param("id"), identity.AccountID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.syncCharger(c, identity, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Charging station released successfully", "station": stationView(c, station)})
}

// syncCharger actualiza el puntero informativo de la sesión. La reserva ya está
// confirmada, así que un fallo aquí solo se registra.
func (h *StationHandler) syncCharger(c *gin.Context, identity domain.Identity, stationID *string) {
	if h.auth == nil || identity.Session == nil {
		return
	}
	if err := h.auth.SetChargerInUse(c.Request.Context(), identity.Session.ID, stationID); err != nil {
		h.logger.Warn("update session charger failed",
			zap.String("session_id", identity.Session.ID),
			zap.Error(err),
		)
	}
}

// parseStationFilter lee status, lng/lat/radius_km y bbox de la query.
func parseStationFilter(c *gin.Context) (domain.StationFilter, error) {
	v := &domain.ValidationError{}
	filter := domain.StationFilter{Status: domain.StationStatus(strings.TrimSpace(c.Query("status")))}

	lng, lat, radius := c.Query("lng"), c.Query("lat"), c.Query("radius_km")
	bbox := strings.TrimSpace(c.Query("bbox"))
	switch {
	case lng != "" || lat != "" || radius != "":
		if bbox != "" {
			v.Add("bbox", "cannot be combined with a radius query")
		}
		center, ok := parsePoint(lng, lat)
		km, err := strconv.ParseFloat(radius, 64)
		if !ok || err != nil || km <= 0 {
			v.Add("radius", "lng, lat and a positive radius_km are required together")
			break
		}
		filter.Area = domain.Radius{Center: center, Meters: km * 1000}
	case bbox != "":
		parts := strings.Split(bbox, ",")
		if len(parts) != 4 {
			v.Add("bbox", "must be minLng,minLat,maxLng,maxLat")
			break
		}
		minPt, okMin := parsePoint(parts[0], parts[1])
		maxPt, okMax := parsePoint(parts[2], parts[3])
		if !okMin || !okMax || minPt.Lng > maxPt.Lng || minPt.Lat > maxPt.Lat {
			v.Add("bbox", "must be minLng,minLat,maxLng,maxLat")
			break
		}
		filter.Area = domain.Box{Min: minPt, Max: maxPt}
	}
	return filter, v.Err()
}

func parsePoint(lngRaw, latRaw string) (domain.Point, bool) {
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if err != nil || lng < -180 || lng > 180 {
		return domain.Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.Point{}, false
	}
	return domain.Point{Lng: lng, Lat: lat}, true
}
