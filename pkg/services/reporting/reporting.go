// Package reporting produces the vehicle manifest of a route as a PDF
// document or a PNG page preview.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/models"
	"vehicle-scan/pkg/report"
	"vehicle-scan/pkg/report/pdf"
	"vehicle-scan/pkg/report/preview"
)

// Store is the record source of a report
type Store interface {
	List(ctx context.Context, route models.Route) ([]models.Vehicle, error)
}

// Request selects what to print
type Request struct {
	Route    models.Route
	Operator string
}

// Document is a finished report or preview
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	Pages       int
	Records     int
}

// Service renders manifests
type Service struct {
	store  Store
	engine *report.Engine
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewService creates a reporting service
func NewService(store Store, engine *report.Engine, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, engine: engine, log: log, now: time.Now}
}

// Filename is the download name of a manifest generated at t
func Filename(t time.Time) string {
	return fmt.Sprintf("Relatorio_Frota_%d.pdf", t.UnixMilli())
}

func (s *Service) layout(ctx context.Context, req Request) ([]report.Instruction, int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, time.Time{}, err
	}
	records, err := s.store.List(ctx, req.Route)
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("failed to load vehicles: %w", err)
	}

	generatedAt := s.now()
	instructions, err := s.engine.Render(records, report.RunMeta{
		Title:       req.Route.Title(),
		GeneratedAt: generatedAt,
		Operator:    req.Operator,
	})
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	return instructions, len(records), generatedAt, nil
}

// Generate renders the route manifest as a PDF. A failed or cancelled run
// returns no document.
func (s *Service) Generate(ctx context.Context, req Request) (Document, error) {
	instructions, n, generatedAt, err := s.layout(ctx, req)
	if err != nil {
		return Document{}, err
	}

	data, err := pdf.NewWriter(s.engine.Layout(), s.log).WithTitle(req.Route.Title()).Write(ctx, instructions)
	if err != nil {
		return Document{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	doc := Document{
		Filename:    Filename(generatedAt),
		ContentType: "application/pdf",
		Data:        data,
		Pages:       report.PageCount(instructions),
		Records:     n,
	}
	s.log.WithFields(logrus.Fields{
		"route":    req.Route,
		"records":  doc.Records,
		"pages":    doc.Pages,
		"filename": doc.Filename,
		"bytes":    len(data),
	}).Info("manifest generated")
	return doc, nil
}

// Preview rasterises page (zero-based) of the route manifest
func (s *Service) Preview(ctx context.Context, req Request, page int, dpi float64) (Document, error) {
	instructions, n, generatedAt, err := s.layout(ctx, req)
	if err != nil {
		return Document{}, err
	}

	data, err := preview.NewWriter(s.engine.Layout(), page, dpi, s.log).Write(ctx, instructions)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Filename:    fmt.Sprintf("Relatorio_Frota_%d_p%d.png", generatedAt.UnixMilli(), page+1),
		ContentType: "image/png",
		Data:        data,
		Pages:       report.PageCount(instructions),
		Records:     n,
	}, nil
}
