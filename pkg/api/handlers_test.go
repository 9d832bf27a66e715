package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-scan/pkg/imageproc"
	"vehicle-scan/pkg/models"
	"vehicle-scan/pkg/report"
	"vehicle-scan/pkg/report/pdf"
	"vehicle-scan/pkg/services/extract"
	"vehicle-scan/pkg/services/intake"
	"vehicle-scan/pkg/services/reporting"
	"vehicle-scan/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *store.Store
}

func newTestServer(t *testing.T, ex extract.Extractor) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)

	engine, err := report.NewEngine(report.DefaultLayout(), pdf.NewMeasurer(), logger)
	require.NoError(t, err)

	in := intake.NewService(st, imageproc.NewNormalizer(200, 0.5, logger), ex, 2, logger)
	h := NewHandler(in, reporting.NewService(st, engine, logger), st, 1<<20, logger)

	r := gin.New()
	h.Register(r)
	return &testServer{router: r, store: st}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func testPhoto(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), 90, uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target string, fields map[string]string, photo []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		part, err := mw.CreateFormFile("photo", "truck.jpg")
		require.NoError(t, err)
		_, err = part.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validFields(route string) map[string]string {
	return map[string]string{
		"driverName":    "Carlos Lima",
		"companyName":   "Transportes Rio Negro",
		"licensePlate":  "qwe1r23",
		"vehicleModel":  "BITREM CURTO (18.60m)",
		"value":         "2500000",
		"paymentStatus": "paid",
		"route":         route,
	}
}

func TestCreateVehicle(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(multipartRequest(t, "/vehicles", validFields("MANAUS"), testPhoto(t, 800, 400)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "QWE-1R23", resp["licensePlate"])
	assert.Equal(t, "R$ 25.000,00", resp["value"])
	assert.Equal(t, true, resp["hasPhoto"])
	id := resp["id"].(string)
	assert.Equal(t, "/vehicles/"+id+"/photo", resp["photoUrl"])

	w = s.do(httptest.NewRequest(http.MethodGet, "/vehicles/"+id+"/photo", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	img, err := jpeg.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Width)
	assert.Equal(t, 100, img.Height)
}

func TestCreateVehicle_Invalid(t *testing.T) {
	s := newTestServer(t, nil)

	fields := validFields("MANAUS")
	fields["licensePlate"] = "12"
	w := s.do(multipartRequest(t, "/vehicles", fields, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "licensePlate", resp["field"])
}

func TestCreateVehicle_TooLarge(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(multipartRequest(t, "/vehicles", validFields("MANAUS"), bytes.Repeat([]byte{0xff}, 3<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateVehicle_PhotoOverCap(t *testing.T) {
	s := newTestServer(t, nil)
	// the request fits the multipart allowance but the photo itself does not
	w := s.do(multipartRequest(t, "/vehicles", validFields("MANAUS"), bytes.Repeat([]byte{0xff}, 1<<20+16)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadStatus(t *testing.T) {
	assert.Equal(t, http.StatusRequestEntityTooLarge, uploadStatus(fmt.Errorf("%w: 5 bytes", ErrUploadTooLarge)))
	// only the sentinel maps to 413, not matching text
	assert.Equal(t, http.StatusBadRequest, uploadStatus(errors.New("multipart: part header too large")))
}

func TestListDeleteAndClear(t *testing.T) {
	s := newTestServer(t, nil)
	for _, route := range []string{"MANAUS", "MANAUS", "SANTAREM"} {
		require.Equal(t, http.StatusCreated, s.do(multipartRequest(t, "/vehicles", validFields(route), nil)).Code)
	}

	var list []map[string]any
	w := s.do(httptest.NewRequest(http.MethodGet, "/vehicles?route=MANAUS", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, false, list[0]["hasPhoto"])

	w = s.do(httptest.NewRequest(http.MethodGet, "/vehicles", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	assert.Equal(t, http.StatusBadRequest, s.do(httptest.NewRequest(http.MethodGet, "/vehicles?route=BELEM", nil)).Code)

	id := list[0]["id"].(string)
	assert.Equal(t, http.StatusNoContent, s.do(httptest.NewRequest(http.MethodDelete, "/vehicles/"+id, nil)).Code)
	assert.Equal(t, http.StatusNotFound, s.do(httptest.NewRequest(http.MethodDelete, "/vehicles/"+id, nil)).Code)
	assert.Equal(t, http.StatusNotFound, s.do(httptest.NewRequest(http.MethodGet, "/vehicles/"+id+"/photo", nil)).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(httptest.NewRequest(http.MethodDelete, "/vehicles", nil)).Code)
	w = s.do(httptest.NewRequest(http.MethodDelete, "/vehicles?route=SANTAREM", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
}

func TestGenerateReport(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodPost, "/reports?route=SANTAREM", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, s.do(multipartRequest(t, "/vehicles", validFields("SANTAREM"), testPhoto(t, 64, 48))).Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/reports?route=SANTAREM", nil)
	req.Header.Set(OperatorHeader, "joana")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="Relatorio_Frota_\d+\.pdf"$`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "1", w.Header().Get("X-Page-Count"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestPreviewReport(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(multipartRequest(t, "/vehicles", validFields("MANAUS"), nil)).Code)

	w := s.do(httptest.NewRequest(http.MethodGet, "/reports/preview?page=1&dpi=36", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, s.do(httptest.NewRequest(http.MethodGet, "/reports/preview?page=2", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(httptest.NewRequest(http.MethodGet, "/reports/preview?page=0", nil)).Code)
}

func TestPreparePhoto(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(multipartRequest(t, "/photos", nil, testPhoto(t, 100, 400)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", w.Header().Get("X-Image-Width"))
	assert.Equal(t, "200", w.Header().Get("X-Image-Height"))

	w = s.do(multipartRequest(t, "/photos", nil, []byte("plain text, not a photo")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = s.do(multipartRequest(t, "/photos", map[string]string{"x": "y"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractVehicle(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(multipartRequest(t, "/vehicles/extract", nil, testPhoto(t, 20, 20)))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	s = newTestServer(t, extract.ExtractorFunc(func(context.Context, models.CanonicalImage) (models.ExtractedVehicleInfo, error) {
		return models.ExtractedVehicleInfo{LicensePlate: "ABC-1234", VehicleModel: "CAMINHÃO TOCO"}, nil
	}))
	w = s.do(multipartRequest(t, "/vehicles/extract", nil, testPhoto(t, 20, 20)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"licensePlate":"ABC-1234","vehicleModel":"CAMINHÃO TOCO"}`, w.Body.String())

	s = newTestServer(t, extract.ExtractorFunc(func(context.Context, models.CanonicalImage) (models.ExtractedVehicleInfo, error) {
		return models.ExtractedVehicleInfo{}, extract.ErrExtraction
	}))
	w = s.do(multipartRequest(t, "/vehicles/extract", nil, testPhoto(t, 20, 20)))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestVehicleModels(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(httptest.NewRequest(http.MethodGet, "/vehicle-models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.VehicleModels, got)
	assert.True(t, strings.Contains(w.Body.String(), "CAVALO"))
}
