package models

import (
	"regexp"
	"strings"
	"time"
)

// PaymentStatus records whether the freight for a vehicle has been paid
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

// ParsePaymentStatus maps user input onto the closed status set.
// Anything that is not recognisably "paid" is pending.
func ParsePaymentStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "pago":
		return PaymentPaid
	default:
		return PaymentPending
	}
}

// Route is the river crossing a manifest belongs to
type Route string

const (
	RouteManaus   Route = "MANAUS"
	RouteSantarem Route = "SANTAREM"
)

// ParseRoute accepts the route with or without the accent; empty means Manaus.
func ParseRoute(s string) (Route, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MANAUS":
		return RouteManaus, true
	case "SANTAREM", "SANTARÉM":
		return RouteSantarem, true
	default:
		return "", false
	}
}

// Title returns the heading printed on the manifest for this route
func (r Route) Title() string {
	if r == RouteSantarem {
		return "Vehicle manifest: Santarém to Manaus"
	}
	return "Vehicle manifest: Manaus to Santarém"
}

// CanonicalImage is the single corrected, size-capped and re-encoded copy of a
// vehicle photo. It is used for preview, storage and report embedding alike.
type CanonicalImage struct {
	PixelWidth   int
	PixelHeight  int
	EncodedBytes []byte
	MIMEType     string
}

// Vehicle represents one transported vehicle on a manifest
type Vehicle struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	DriverName    string         `gorm:"not null" json:"driverName"`
	CompanyName   string         `json:"companyName,omitempty"`
	LicensePlate  string         `gorm:"size:8;index" json:"licensePlate"`
	VehicleModel  string         `json:"vehicleModel"`
	DeclaredValue string         `json:"value"`
	PaymentStatus PaymentStatus  `gorm:"size:16" json:"paymentStatus"`
	Route         Route          `gorm:"size:16;index" json:"route"`
	Photo         CanonicalImage `gorm:"embedded;embeddedPrefix:photo_" json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// HasPhoto reports whether a canonical photo is attached
func (v *Vehicle) HasPhoto() bool {
	return len(v.Photo.EncodedBytes) > 0
}

// Status returns the payment status, treating unknown values as pending.
func (v *Vehicle) Status() PaymentStatus {
	if v.PaymentStatus == PaymentPaid {
		return PaymentPaid
	}
	return PaymentPending
}

// ExtractedVehicleInfo holds the fields an extraction service could read from a photo
type ExtractedVehicleInfo struct {
	LicensePlate string `json:"licensePlate,omitempty"`
	VehicleModel string `json:"vehicleModel,omitempty"`
}

var plateRegex = regexp.MustCompile(`^[A-Z]{3}-[0-9][A-Z0-9][0-9]{2}$`)

// MaskLicensePlate uppercases the input, drops separators and applies the
// AAA-9999 / AAA-9A99 mask.
func MaskLicensePlate(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) > 7 {
		cleaned = cleaned[:7]
	}
	if len(cleaned) > 3 {
		return cleaned[:3] + "-" + cleaned[3:]
	}
	return cleaned
}

// ValidLicensePlate checks a masked plate against the Brazilian formats
func ValidLicensePlate(s string) bool {
	return plateRegex.MatchString(s)
}

// VehicleModels are the suggestions offered when typing a model
var VehicleModels = []string{
	"CARRETA (ATÉ 19.40m)",
	"BITREM CURTO (18.60m)",
	"RODOTREM (25.80m)",
	"RODOTREM (30m)",
	"PRANCHA (22m x 3.20m)",
	"PRANCHA (25m x 3.20m)",
	"TRUCK ORIGINAL (9m)",
	"TRUCK BAÚ (14m)",
	"CAMINHÃO TOCO",
	"CAMINHÃO 3/4",
	"RODOTREM TANQUE (INFLAMÁVEL)",
	"CARRETA (SEM CAVALO)",
	"CAVALO MECÂNICO",
}
