// Package pdf writes manifest instruction streams as PDF documents using fpdf.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"vehicle-scan/pkg/report"
)

const fontFamily = "Helvetica"

var (
	// ErrWriter is a failure of the PDF backend that aborts the document
	ErrWriter = errors.New("pdf: cannot write document")
	// ErrImage is a failure to place one image; the image is skipped
	ErrImage = errors.New("pdf: cannot place image")
	// ErrStream rejects instruction streams that do not start with a page
	ErrStream = errors.New("pdf: malformed instruction stream")
)

// Writer renders report instructions into a PDF. It is stateless between
// calls; each Write builds its own document.
type Writer struct {
	layout  report.Layout
	unit    string
	title   string
	creator string
	log     logrus.FieldLogger
}

// NewWriter creates a Writer for pages sized by layout, in millimetres
func NewWriter(layout report.Layout, log logrus.FieldLogger) *Writer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{layout: layout, unit: "mm", creator: "vehicle-scan", log: log}
}

// WithTitle returns a copy of w that stamps title into the document metadata
func (w *Writer) WithTitle(title string) *Writer {
	c := *w
	c.title = title
	return &c
}

// Write implements report.DocumentWriter. Images that cannot be placed are
// logged and skipped; any other backend failure or a cancelled context
// returns an error and no bytes.
func (w *Writer) Write(ctx context.Context, instructions []report.Instruction) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrStream)
	}
	if _, ok := instructions[0].(report.NewPage); !ok {
		return nil, fmt.Errorf("%w: first instruction is %T, not a page", ErrStream, instructions[0])
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        w.unit,
		Size:           fpdf.SizeType{Wd: w.layout.PageWidth, Ht: w.layout.PageHeight},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCreator(w.creator, true)
	if w.title != "" {
		pdf.SetTitle(w.title, true)
	}

	images := 0
	skipped := 0
	for i, in := range instructions {
		switch v := in.(type) {
		case report.NewPage:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pdf.AddPage()
		case report.Text:
			setFont(pdf, v.Font)
			pdf.SetTextColor(int(v.Color.R), int(v.Color.G), int(v.Color.B))
			pdf.Text(v.X, v.Y, latin1(v.Text))
		case report.Line:
			pdf.SetDrawColor(int(v.Color.R), int(v.Color.G), int(v.Color.B))
			pdf.SetLineWidth(v.Width)
			pdf.Line(v.X1, v.Y1, v.X2, v.Y2)
		case report.FillRect:
			pdf.SetFillColor(int(v.Color.R), int(v.Color.G), int(v.Color.B))
			pdf.Rect(v.X, v.Y, v.W, v.H, "F")
		case report.FillCircle:
			pdf.SetFillColor(int(v.Color.R), int(v.Color.G), int(v.Color.B))
			pdf.Circle(v.X, v.Y, v.R, "F")
		case report.Image:
			images++
			if err := placeImage(pdf, v, fmt.Sprintf("photo-%d", images)); err != nil {
				skipped++
				w.log.WithFields(logrus.Fields{
					"record_id": v.RecordID,
					"bytes":     len(v.Data),
				}).WithError(err).Warn("skipping photo in manifest")
			}
		default:
			return nil, fmt.Errorf("%w: unsupported instruction %T at %d", ErrStream, in, i)
		}
		if pdf.Err() {
			return nil, fmt.Errorf("%w: instruction %d: %v", ErrWriter, i, pdf.Error())
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriter, err)
	}

	w.log.WithFields(logrus.Fields{
		"pages":          pdf.PageCount(),
		"images":         images,
		"images_skipped": skipped,
		"bytes":          buf.Len(),
	}).Debug("manifest written")
	return buf.Bytes(), nil
}

// placeImage registers and draws one image. A payload fpdf cannot parse
// leaves the document untouched.
func placeImage(pdf *fpdf.Fpdf, img report.Image, name string) error {
	_, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImage, err)
	}
	var imageType string
	switch format {
	case "jpeg":
		imageType = "JPG"
	case "png", "gif":
		imageType = strings.ToUpper(format)
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrImage, format)
	}

	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
	if pdf.Err() {
		err := pdf.Error()
		pdf.ClearError()
		return fmt.Errorf("%w: %v", ErrImage, err)
	}
	pdf.ImageOptions(name, img.X, img.Y, img.W, img.H, false, opts, 0, "")
	return nil
}

func setFont(pdf *fpdf.Fpdf, f report.Font) {
	style := ""
	if f.Bold {
		style = "B"
	}
	pdf.SetFont(fontFamily, style, f.Size)
}

// latin1 maps text onto the Windows-1252 encoding of the core PDF fonts.
// Runes outside it become '?'.
func latin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Measurer measures text with the same fonts and encoding the Writer uses,
// so clipping decisions made by the layout engine hold in the document.
type Measurer struct {
	mu  sync.Mutex
	pdf *fpdf.Fpdf
}

// NewMeasurer creates a millimetre-unit measurer
func NewMeasurer() *Measurer {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont(fontFamily, "", 10)
	return &Measurer{pdf: pdf}
}

// StringWidth implements report.Measurer
func (m *Measurer) StringWidth(s string, f report.Font) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	setFont(m.pdf, f)
	return m.pdf.GetStringWidth(latin1(s))
}
