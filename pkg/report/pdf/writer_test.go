package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-scan/pkg/models"
	"vehicle-scan/pkg/report"
)

func jpegPhoto(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50}))
	return buf.Bytes()
}

func TestWriter_WritesPDF(t *testing.T) {
	w := NewWriter(report.DefaultLayout(), nil).WithTitle("Manifest")
	out, err := w.Write(context.Background(), []report.Instruction{
		report.NewPage{Index: 0},
		report.FillRect{X: 10, Y: 20, W: 190, H: 7, Color: report.Color{R: 240, G: 240, B: 240}},
		report.Text{X: 12, Y: 25, Text: "Caminhão Baú", Font: report.Font{Size: 9, Bold: true}},
		report.Line{X1: 10, Y1: 27, X2: 200, Y2: 27, Width: 0.5},
		report.FillCircle{X: 150, Y: 40, R: 1.2, Color: report.Color{G: 139}},
		report.Image{X: 19, Y: 30, W: 12, H: 12, Data: jpegPhoto(t, 40, 40), MIMEType: "image/jpeg"},
		report.NewPage{Index: 1},
		report.Text{X: 12, Y: 25, Text: "page 2 of 2", Font: report.Font{Size: 8}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out, []byte("%%EOF")))
}

func TestWriter_SkipsUndecodableImage(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := NewWriter(report.DefaultLayout(), logger)

	out, err := w.Write(context.Background(), []report.Instruction{
		report.NewPage{},
		report.Image{X: 19, Y: 30, W: 12, H: 12, Data: []byte("definitely not a jpeg"), RecordID: "bad-row"},
		report.Text{X: 35, Y: 36, Text: "Alice", Font: report.Font{Size: 9}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["record_id"] == "bad-row" {
			warned = true
		}
	}
	assert.True(t, warned, "skipped image is logged with its record")
}

func TestWriter_RejectsMalformedStream(t *testing.T) {
	w := NewWriter(report.DefaultLayout(), nil)

	_, err := w.Write(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrStream))

	_, err = w.Write(context.Background(), []report.Instruction{report.Text{Text: "orphan"}})
	assert.True(t, errors.Is(err, ErrStream))
}

func TestWriter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWriter(report.DefaultLayout(), nil)
	out, err := w.Write(ctx, []report.Instruction{report.NewPage{}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestMeasurer(t *testing.T) {
	m := NewMeasurer()
	body := report.Font{Size: 9}

	assert.Greater(t, m.StringWidth("WWWW", body), m.StringWidth("iiii", body))
	assert.Greater(t, m.StringWidth("abc", report.Font{Size: 18}), m.StringWidth("abc", body))
	assert.InDelta(t, 0, m.StringWidth("", body), 1e-9)
	// accented text measures like its Latin-1 form
	assert.InDelta(t, m.StringWidth("Baú", body), m.StringWidth("Bau", body), 0.5)
}

func TestRenderAndWrite(t *testing.T) {
	layout := report.DefaultLayout()
	engine, err := report.NewEngine(layout, NewMeasurer(), nil)
	require.NoError(t, err)

	photo := jpegPhoto(t, 60, 30)
	records := make([]models.Vehicle, 40)
	for i := range records {
		records[i] = models.Vehicle{
			ID:            fmt.Sprint(i),
			DriverName:    fmt.Sprintf("Motorista %d da Silva", i),
			CompanyName:   "Transportes Tapajós",
			LicensePlate:  "ABC-1B23",
			VehicleModel:  "RODOTREM TANQUE (INFLAMÁVEL)",
			DeclaredValue: models.FormatBRL(int64(i) * 123456),
			PaymentStatus: models.PaymentPending,
		}
		if i%2 == 0 {
			records[i].PaymentStatus = models.PaymentPaid
			records[i].Photo = models.CanonicalImage{PixelWidth: 60, PixelHeight: 30, EncodedBytes: photo, MIMEType: "image/jpeg"}
		}
	}

	instructions, err := engine.Render(records, report.RunMeta{Title: models.RouteManaus.Title(), Operator: "Operador"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.PageCount(instructions), 3)

	out, err := NewWriter(layout, nil).Write(context.Background(), instructions)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestLatin1(t *testing.T) {
	assert.Equal(t, "Caminh\xe3o", latin1("Caminhão"))
	assert.Equal(t, "a?b", latin1("a漢b"))
}
