// Package intake turns a submitted vehicle form and its photo into a stored
// record: the photo is normalized under a bounded worker pool, blank plate
// and model fields are optionally prefilled by extraction, and the record is
// validated before it is persisted.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"vehicle-scan/pkg/imageproc"
	"vehicle-scan/pkg/models"
	"vehicle-scan/pkg/services/extract"
)

var (
	// ErrUnsupportedMedia is returned for uploads that are not a supported image type
	ErrUnsupportedMedia = errors.New("intake: unsupported media type")
	// ErrExtractionDisabled is returned when no extractor is configured
	ErrExtractionDisabled = errors.New("intake: extraction is not configured")
)

var supportedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff"}

// FieldError reports a submission field that failed validation
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store is the persistence the service writes to
type Store interface {
	Create(ctx context.Context, v *models.Vehicle) error
}

// Submission is the raw form content of one vehicle
type Submission struct {
	DriverName    string
	CompanyName   string
	LicensePlate  string
	VehicleModel  string
	DeclaredValue string
	PaymentStatus string
	Route         string
	Photo         []byte
}

// Service registers vehicles
type Service struct {
	store      Store
	normalizer *imageproc.Normalizer
	extractor  extract.Extractor
	sem        *semaphore.Weighted
	log        logrus.FieldLogger
}

// NewService creates an intake service. extractor may be nil; workers
// bounds how many photos are normalized at once.
func NewService(store Store, normalizer *imageproc.Normalizer, extractor extract.Extractor, workers int, log logrus.FieldLogger) *Service {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if normalizer == nil {
		normalizer = imageproc.NewNormalizer(0, 0, log)
	}
	return &Service{
		store:      store,
		normalizer: normalizer,
		extractor:  extractor,
		sem:        semaphore.NewWeighted(int64(workers)),
		log:        log,
	}
}

// PreparePhoto produces the canonical image of an uploaded photo. It waits
// for a free worker and for the result, or returns early when ctx is done.
func (s *Service) PreparePhoto(ctx context.Context, raw []byte) (models.CanonicalImage, error) {
	mtype := mimetype.Detect(raw)
	if !mimetype.EqualsAny(mtype.String(), supportedTypes...) {
		return models.CanonicalImage{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mtype.String())
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return models.CanonicalImage{}, err
	}

	type result struct {
		img models.CanonicalImage
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.sem.Release(1)
		img, err := s.normalizer.Process(raw)
		done <- result{img, err}
	}()

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		return models.CanonicalImage{}, ctx.Err()
	}
}

// Extract suggests plate and model for an uploaded photo
func (s *Service) Extract(ctx context.Context, raw []byte) (models.ExtractedVehicleInfo, error) {
	if s.extractor == nil {
		return models.ExtractedVehicleInfo{}, ErrExtractionDisabled
	}
	photo, err := s.PreparePhoto(ctx, raw)
	if err != nil {
		return models.ExtractedVehicleInfo{}, err
	}
	return s.extractor.Extract(ctx, photo)
}

// Submit validates and stores one vehicle. A photo that cannot be
// normalized is dropped with a warning and the record is kept.
func (s *Service) Submit(ctx context.Context, sub Submission) (models.Vehicle, error) {
	v := models.Vehicle{
		DriverName:    strings.TrimSpace(sub.DriverName),
		CompanyName:   strings.TrimSpace(sub.CompanyName),
		LicensePlate:  models.MaskLicensePlate(sub.LicensePlate),
		VehicleModel:  strings.TrimSpace(sub.VehicleModel),
		DeclaredValue: models.NormalizeDeclaredValue(sub.DeclaredValue),
		PaymentStatus: models.ParsePaymentStatus(sub.PaymentStatus),
	}

	route, ok := models.ParseRoute(sub.Route)
	if !ok {
		return models.Vehicle{}, &FieldError{Field: "route", Reason: fmt.Sprintf("unknown route %q", sub.Route)}
	}
	v.Route = route

	if len(sub.Photo) > 0 {
		photo, err := s.PreparePhoto(ctx, sub.Photo)
		switch {
		case err == nil:
			v.Photo = photo
		case ctx.Err() != nil:
			return models.Vehicle{}, ctx.Err()
		default:
			s.log.WithFields(logrus.Fields{"driver": v.DriverName}).WithError(err).Warn("storing vehicle without photo")
		}
	}

	if v.HasPhoto() && (v.LicensePlate == "" || v.VehicleModel == "") {
		s.autofill(ctx, &v)
	}

	if err := validate(&v); err != nil {
		return models.Vehicle{}, err
	}
	if err := s.store.Create(ctx, &v); err != nil {
		return models.Vehicle{}, err
	}

	s.log.WithFields(logrus.Fields{
		"id":        v.ID,
		"route":     v.Route,
		"has_photo": v.HasPhoto(),
	}).Info("vehicle registered")
	return v, nil
}

func (s *Service) autofill(ctx context.Context, v *models.Vehicle) {
	if s.extractor == nil {
		return
	}
	info, err := s.extractor.Extract(ctx, v.Photo)
	if err != nil {
		s.log.WithError(err).Warn("extraction failed, keeping typed fields")
		return
	}
	if v.LicensePlate == "" {
		v.LicensePlate = models.MaskLicensePlate(info.LicensePlate)
	}
	if v.VehicleModel == "" {
		v.VehicleModel = info.VehicleModel
	}
}

func validate(v *models.Vehicle) error {
	switch {
	case v.DriverName == "":
		return &FieldError{Field: "driverName", Reason: "required"}
	case v.LicensePlate == "":
		return &FieldError{Field: "licensePlate", Reason: "required"}
	case !models.ValidLicensePlate(v.LicensePlate):
		return &FieldError{Field: "licensePlate", Reason: fmt.Sprintf("%q is not a valid plate", v.LicensePlate)}
	case v.DeclaredValue == "":
		return &FieldError{Field: "value", Reason: "required"}
	}
	return nil
}
