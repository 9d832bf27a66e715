// Package extract reads a license plate and vehicle model out of a vehicle
// photo. Results only ever prefill form fields; a failed extraction never
// blocks a record.
package extract

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"vehicle-scan/pkg/models"
)

// ErrExtraction is returned when no text could be read from the photo
var ErrExtraction = errors.New("extract: extraction failed")

// Extractor suggests a plate and model for a canonical photo
type Extractor interface {
	Extract(ctx context.Context, photo models.CanonicalImage) (models.ExtractedVehicleInfo, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(ctx context.Context, photo models.CanonicalImage) (models.ExtractedVehicleInfo, error)

func (f ExtractorFunc) Extract(ctx context.Context, photo models.CanonicalImage) (models.ExtractedVehicleInfo, error) {
	return f(ctx, photo)
}

// TextLine represents a line of text with its position from OCR
type TextLine struct {
	Text   string
	X      int
	Y      int
	Width  int
	Height int
}

var platePattern = regexp.MustCompile(`\b[A-Z]{3}[ .\-]?[0-9][A-Z0-9][0-9]{2}\b`)

// stop words that appear in model names without identifying them
var modelStopWords = map[string]bool{"ATE": true, "SEM": true}

// ParseVehicleInfo picks the plate from the tallest line carrying one and
// the catalogue model sharing the most words with the recognised text.
func ParseVehicleInfo(lines []TextLine) models.ExtractedVehicleInfo {
	var info models.ExtractedVehicleInfo

	plateHeight := -1
	words := make(map[string]bool)
	for _, line := range lines {
		text := fold(line.Text)
		if m := platePattern.FindString(text); m != "" && line.Height > plateHeight {
			if plate := models.MaskLicensePlate(m); models.ValidLicensePlate(plate) {
				info.LicensePlate = plate
				plateHeight = line.Height
			}
		}
		for _, w := range tokens(text) {
			words[w] = true
		}
	}

	best := 0
	for _, model := range models.VehicleModels {
		score := 0
		for _, w := range tokens(fold(model)) {
			if words[w] {
				score++
			}
		}
		if score > best {
			best = score
			info.VehicleModel = model
		}
	}
	return info
}

// fold uppercases s and strips diacritics so "Mecânico" matches "MECANICO"
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

// tokens returns the purely alphabetic words of at least three letters
func tokens(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) < 3 || modelStopWords[f] || strings.IndexFunc(f, unicode.IsDigit) >= 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}
