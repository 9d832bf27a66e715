// Package api exposes vehicle intake and manifest generation over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/imageproc"
	"vehicle-scan/pkg/models"
	"vehicle-scan/pkg/report"
	"vehicle-scan/pkg/report/preview"
	"vehicle-scan/pkg/services/extract"
	"vehicle-scan/pkg/services/intake"
	"vehicle-scan/pkg/services/reporting"
	"vehicle-scan/pkg/store"
)

// OperatorHeader names the request header carrying the operator identity
const OperatorHeader = "X-Operator"

// ErrUploadTooLarge is returned for uploads over the configured size cap
var ErrUploadTooLarge = errors.New("api: upload too large")

// VehicleStore is the record access the handlers need besides intake
type VehicleStore interface {
	List(ctx context.Context, route models.Route) ([]models.Vehicle, error)
	Get(ctx context.Context, id string) (models.Vehicle, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context, route models.Route) (int64, error)
}

// Handler serves the HTTP API
type Handler struct {
	intake         *intake.Service
	reports        *reporting.Service
	store          VehicleStore
	maxUploadBytes int64
	log            logrus.FieldLogger
}

// NewHandler creates the API handlers
func NewHandler(in *intake.Service, reports *reporting.Service, st VehicleStore, maxUploadBytes int64, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{intake: in, reports: reports, store: st, maxUploadBytes: maxUploadBytes, log: log}
}

// NewRouter returns a gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	h.Register(r)
	return r
}

// Register adds the API routes to r
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/vehicles", h.createVehicle)
	r.POST("/vehicles/extract", h.extractVehicle)
	r.GET("/vehicles", h.listVehicles)
	r.DELETE("/vehicles", h.clearVehicles)
	r.DELETE("/vehicles/:id", h.deleteVehicle)
	r.GET("/vehicles/:id/photo", h.vehiclePhoto)
	r.POST("/photos", h.preparePhoto)

	r.POST("/reports", h.generateReport)
	r.GET("/reports/preview", h.previewReport)

	r.GET("/vehicle-models", h.vehicleModels)
}

type vehicleResponse struct {
	models.Vehicle
	HasPhoto bool   `json:"hasPhoto"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

func toResponse(v models.Vehicle) vehicleResponse {
	resp := vehicleResponse{Vehicle: v, HasPhoto: v.HasPhoto()}
	if resp.HasPhoto {
		resp.PhotoURL = "/vehicles/" + v.ID + "/photo"
	}
	return resp
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// readPhoto returns the uploaded "photo" part, or nil when there is none
func (h *Handler) readPhoto(c *gin.Context) ([]byte, error) {
	if h.maxUploadBytes > 0 && c.Request.ContentLength > h.maxUploadBytes+multipartOverhead {
		return nil, fmt.Errorf("%w: request is %d bytes", ErrUploadTooLarge, c.Request.ContentLength)
	}
	fh, err := c.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return nil, fmt.Errorf("%w: %v", ErrUploadTooLarge, err)
	}
	if err != nil {
		return nil, err
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return nil, fmt.Errorf("%w: photo is %d bytes, limit %d", ErrUploadTooLarge, fh.Size, h.maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// multipart framing and form fields allowed on top of the photo itself
const multipartOverhead = 1 << 20

// limitBody caps the request body so oversized uploads fail while parsing
func (h *Handler) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
}

func uploadStatus(err error) int {
	if errors.Is(err, ErrUploadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func photoStatus(err error) int {
	switch {
	case errors.Is(err, intake.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, imageproc.ErrDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) createVehicle(c *gin.Context) {
	h.limitBody(c)
	photo, err := h.readPhoto(c)
	if err != nil {
		abortWithError(c, uploadStatus(err), err)
		return
	}

	v, err := h.intake.Submit(c.Request.Context(), intake.Submission{
		DriverName:    c.PostForm("driverName"),
		CompanyName:   c.PostForm("companyName"),
		LicensePlate:  c.PostForm("licensePlate"),
		VehicleModel:  c.PostForm("vehicleModel"),
		DeclaredValue: c.PostForm("value"),
		PaymentStatus: c.PostForm("paymentStatus"),
		Route:         c.PostForm("route"),
		Photo:         photo,
	})
	var fieldErr *intake.FieldError
	switch {
	case errors.As(err, &fieldErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fieldErr.Error(), "field": fieldErr.Field})
		return
	case err != nil:
		h.log.WithError(err).Error("failed to register vehicle")
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(v))
}

func (h *Handler) extractVehicle(c *gin.Context) {
	h.limitBody(c)
	photo, err := h.readPhoto(c)
	if err != nil {
		abortWithError(c, uploadStatus(err), err)
		return
	}
	if photo == nil {
		abortWithError(c, http.StatusBadRequest, errors.New("photo is required"))
		return
	}

	info, err := h.intake.Extract(c.Request.Context(), photo)
	switch {
	case errors.Is(err, intake.ErrExtractionDisabled):
		abortWithError(c, http.StatusNotImplemented, err)
		return
	case errors.Is(err, extract.ErrExtraction):
		h.log.WithError(err).Warn("extraction failed")
		abortWithError(c, http.StatusBadGateway, err)
		return
	case err != nil:
		abortWithError(c, photoStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) preparePhoto(c *gin.Context) {
	h.limitBody(c)
	photo, err := h.readPhoto(c)
	if err != nil {
		abortWithError(c, uploadStatus(err), err)
		return
	}
	if photo == nil {
		abortWithError(c, http.StatusBadRequest, errors.New("photo is required"))
		return
	}

	img, err := h.intake.PreparePhoto(c.Request.Context(), photo)
	if err != nil {
		abortWithError(c, photoStatus(err), err)
		return
	}
	c.Header("X-Image-Width", strconv.Itoa(img.PixelWidth))
	c.Header("X-Image-Height", strconv.Itoa(img.PixelHeight))
	c.Data(http.StatusOK, img.MIMEType, img.EncodedBytes)
}

// routeQuery parses ?route=. ok is false after an error response was sent.
func routeQuery(c *gin.Context, required bool) (route models.Route, ok bool) {
	raw, present := c.GetQuery("route")
	if !present && !required {
		return "", true
	}
	route, valid := models.ParseRoute(raw)
	if !valid || (required && !present) {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid route %q", raw))
		return "", false
	}
	return route, true
}

func (h *Handler) listVehicles(c *gin.Context) {
	route, ok := routeQuery(c, false)
	if !ok {
		return
	}
	vehicles, err := h.store.List(c.Request.Context(), route)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	resp := make([]vehicleResponse, len(vehicles))
	for i, v := range vehicles {
		resp[i] = toResponse(v)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) clearVehicles(c *gin.Context) {
	route, ok := routeQuery(c, true)
	if !ok {
		return
	}
	n, err := h.store.Clear(c.Request.Context(), route)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	h.log.WithFields(logrus.Fields{"route": route, "deleted": n}).Info("route cleared")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) deleteVehicle(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err)
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (h *Handler) vehiclePhoto(c *gin.Context) {
	v, err := h.store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if !v.HasPhoto() {
		abortWithError(c, http.StatusNotFound, errors.New("vehicle has no photo"))
		return
	}
	c.Data(http.StatusOK, v.Photo.MIMEType, v.Photo.EncodedBytes)
}

func operator(c *gin.Context) string {
	if op := strings.TrimSpace(c.GetHeader(OperatorHeader)); op != "" {
		return op
	}
	return strings.TrimSpace(c.PostForm("operator"))
}

func reportStatus(err error) int {
	switch {
	case report.IsValidationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, preview.ErrNoSuchPage):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) generateReport(c *gin.Context) {
	route, ok := routeQuery(c, false)
	if !ok {
		return
	}
	if route == "" {
		route = models.RouteManaus
	}

	doc, err := h.reports.Generate(c.Request.Context(), reporting.Request{Route: route, Operator: operator(c)})
	if err != nil {
		if status := reportStatus(err); status == http.StatusInternalServerError {
			h.log.WithError(err).Error("failed to generate manifest")
		}
		abortWithError(c, reportStatus(err), err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
	c.Header("X-Page-Count", strconv.Itoa(doc.Pages))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func (h *Handler) previewReport(c *gin.Context) {
	route, ok := routeQuery(c, false)
	if !ok {
		return
	}
	if route == "" {
		route = models.RouteManaus
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		abortWithError(c, http.StatusBadRequest, errors.New("page must be a positive integer"))
		return
	}
	dpi, err := strconv.ParseFloat(c.DefaultQuery("dpi", strconv.Itoa(preview.DefaultDPI)), 64)
	if err != nil || dpi <= 0 || dpi > 300 {
		abortWithError(c, http.StatusBadRequest, errors.New("dpi must be in (0, 300]"))
		return
	}

	doc, err := h.reports.Preview(c.Request.Context(), reporting.Request{Route: route, Operator: operator(c)}, page-1, dpi)
	if err != nil {
		abortWithError(c, reportStatus(err), err)
		return
	}
	c.Header("X-Page-Count", strconv.Itoa(doc.Pages))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func (h *Handler) vehicleModels(c *gin.Context) {
	c.JSON(http.StatusOK, models.VehicleModels)
}
