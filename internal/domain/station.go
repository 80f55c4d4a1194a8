package domain

import "time"

type StationStatus string

const (
	StatusAvailable   StationStatus = "available"
	StatusInUse       StationStatus = "in-use"
	StatusMaintenance StationStatus = "maintenance"
	StatusOffline     StationStatus = "offline"
)

func (s StationStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusMaintenance, StatusOffline:
		return true
	default:
		return false
	}
}

type ConnectorType string

const (
	ConnectorType1   ConnectorType = "Type 1"
	ConnectorType2   ConnectorType = "Type 2"
	ConnectorCCS     ConnectorType = "CCS"
	ConnectorCHAdeMO ConnectorType = "CHAdeMO"
	ConnectorTesla   ConnectorType = "Tesla"
)

// ConnectorTypes enumera los conectores aceptados por el registro.
var ConnectorTypes = []ConnectorType{ConnectorType1, ConnectorType2, ConnectorCCS, ConnectorCHAdeMO, ConnectorTesla}

func (c ConnectorType) Valid() bool {
	for _, known := range ConnectorTypes {
		if c == known {
			return true
		}
	}
	return false
}

// Point es una coordenada WGS84.
type Point struct {
	Lng float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

type OperatingHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Station es un punto de carga. BookedBy es no nulo si y solo si Status == in-use.
type Station struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Location       Point          `json:"location"`
	Address        string         `json:"address"`
	ConnectorType  ConnectorType  `json:"connector_type"`
	PowerOutput    float64        `json:"power_output"`
	PricePerKWh    float64        `json:"price_per_kwh"`
	OperatingHours OperatingHours `json:"operating_hours"`
	Amenities      []string       `json:"amenities"`
	Status         StationStatus  `json:"status"`
	BookedBy       *string        `json:"booked_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HeldBy indica si la estación está reservada por la cuenta dada.
func (s Station) HeldBy(accountID string) bool {
	return s.Status == StatusInUse && s.BookedBy != nil && *s.BookedBy == accountID
}

// StationFilter acota los listados del registro. Los campos vacíos no filtran.
type StationFilter struct {
	Status StationStatus
	Area   Area
}

// Area es una consulta espacial: Radius o Box.
type Area interface {
	isArea()
}

// Radius selecciona estaciones a menos de Meters del centro, ordenadas por distancia.
type Radius struct {
	Center Point
	Meters float64
}

// Box selecciona estaciones dentro de un rectángulo lng/lat.
type Box struct {
	Min Point
	Max Point
}

func (Radius) isArea() {}
func (Box) isArea()    {}
