package core

import (
	"fmt"
	"math"
)

// MaxLengthKm bounds the edge length of an import area. The public map API
// refuses boxes much larger than this.
const MaxLengthKm = 10.0

// ValidateCoords checks if latitude and longitude are finite and within range
func ValidateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return NewError(ErrInvalidLatitude, fmt.Sprintf("latitude must be between -90 and 90, got %f", lat)).
			WithGuidance("Ensure latitude is in decimal degrees")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return NewError(ErrInvalidLongitude, fmt.Sprintf("longitude must be between -180 and 180, got %f", lon)).
			WithGuidance("Ensure longitude is in decimal degrees")
	}
	return nil
}

// ValidateLength checks the edge length of the import area in kilometres.
func ValidateLength(lengthKm float64) error {
	if math.IsNaN(lengthKm) || lengthKm <= 0 {
		return NewError(ErrInvalidLength, fmt.Sprintf("length must be greater than 0, got %f", lengthKm)).
			WithGuidance("Specify a positive edge length in kilometres")
	}
	if lengthKm > MaxLengthKm {
		return NewError(ErrInvalidLength, fmt.Sprintf("length must be at most %.1f km, got %f", MaxLengthKm, lengthKm)).
			WithGuidance("Import a smaller area")
	}
	return nil
}

// ValidateImport validates the full import request.
func ValidateImport(lat, lon, lengthKm float64) error {
	if err := ValidateCoords(lat, lon); err != nil {
		return err
	}
	return ValidateLength(lengthKm)
}
