// Package preview rasterises one page of a manifest instruction stream to
// PNG for on-screen display.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"vehicle-scan/pkg/report"
)

const DefaultDPI = 96

var (
	// ErrNoSuchPage is returned when the requested page is not in the stream
	ErrNoSuchPage = errors.New("preview: page out of range")
	// ErrImage is a photo that could not be drawn; it is skipped
	ErrImage = errors.New("preview: cannot draw image")
)

// Writer draws page Page (zero-based) of a stream at DPI dots per inch
type Writer struct {
	layout report.Layout
	page   int
	dpi    float64
	log    logrus.FieldLogger

	mu    sync.Mutex
	faces map[report.Font]font.Face
}

// NewWriter creates a preview writer for the given page
func NewWriter(layout report.Layout, page int, dpi float64, log logrus.FieldLogger) *Writer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{layout: layout, page: page, dpi: dpi, log: log, faces: make(map[report.Font]font.Face)}
}

// scale is pixels per layout unit
func (w *Writer) scale() float64 {
	return w.dpi / 72 / w.layout.PointSize
}

// Write implements report.DocumentWriter and returns PNG bytes
func (w *Writer) Write(ctx context.Context, instructions []report.Instruction) ([]byte, error) {
	pages := report.SplitPages(instructions)
	if w.page < 0 || w.page >= len(pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoSuchPage, w.page+1, len(pages))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := w.scale()
	dc := gg.NewContext(int(math.Ceil(w.layout.PageWidth*s)), int(math.Ceil(w.layout.PageHeight*s)))
	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	for _, in := range pages[w.page] {
		switch v := in.(type) {
		case report.Text:
			face, err := w.face(v.Font)
			if err != nil {
				return nil, err
			}
			dc.SetFontFace(face)
			setColor(dc, v.Color)
			dc.DrawString(v.Text, v.X*s, v.Y*s)
		case report.Line:
			setColor(dc, v.Color)
			dc.SetLineWidth(math.Max(v.Width*s, 1))
			dc.DrawLine(v.X1*s, v.Y1*s, v.X2*s, v.Y2*s)
			dc.Stroke()
		case report.FillRect:
			setColor(dc, v.Color)
			dc.DrawRectangle(v.X*s, v.Y*s, v.W*s, v.H*s)
			dc.Fill()
		case report.FillCircle:
			setColor(dc, v.Color)
			dc.DrawCircle(v.X*s, v.Y*s, v.R*s)
			dc.Fill()
		case report.Image:
			if err := drawImage(dc, v, s); err != nil {
				w.log.WithFields(logrus.Fields{"record_id": v.RecordID}).WithError(err).Warn("skipping photo in preview")
			}
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("preview: encode page: %w", err)
	}
	return buf.Bytes(), nil
}

func drawImage(dc *gg.Context, v report.Image, s float64) error {
	img, err := imaging.Decode(bytes.NewReader(v.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImage, err)
	}
	wpx, hpx := int(math.Round(v.W*s)), int(math.Round(v.H*s))
	if wpx < 1 || hpx < 1 {
		return fmt.Errorf("%w: box %.2fx%.2f too small", ErrImage, v.W, v.H)
	}
	dc.DrawImage(imaging.Resize(img, wpx, hpx, imaging.Linear), int(math.Round(v.X*s)), int(math.Round(v.Y*s)))
	return nil
}

func setColor(dc *gg.Context, c report.Color) {
	dc.SetRGB255(int(c.R), int(c.G), int(c.B))
}

var (
	fontsOnce           sync.Once
	regularTTF, boldTTF *truetype.Font
	fontsErr            error
)

func parseFonts() {
	regularTTF, fontsErr = truetype.Parse(goregular.TTF)
	if fontsErr != nil {
		return
	}
	boldTTF, fontsErr = truetype.Parse(gobold.TTF)
}

func (w *Writer) face(f report.Font) (font.Face, error) {
	fontsOnce.Do(parseFonts)
	if fontsErr != nil {
		return nil, fmt.Errorf("preview: load fonts: %w", fontsErr)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if face, ok := w.faces[f]; ok {
		return face, nil
	}
	ttf := regularTTF
	if f.Bold {
		ttf = boldTTF
	}
	face := truetype.NewFace(ttf, &truetype.Options{Size: f.Size, DPI: w.dpi, Hinting: font.HintingFull})
	w.faces[f] = face
	return face, nil
}
