package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"vehicle-scan/pkg/models"
)

// RunMeta carries the per-run strings printed around the table
type RunMeta struct {
	Title       string
	GeneratedAt time.Time
	Operator    string
}

// Engine lays out vehicle records as manifest pages. An Engine is
// immutable and safe for concurrent use; each Render call owns its own
// cursor and page buffers.
type Engine struct {
	layout  Layout
	measure Measurer
	log     logrus.FieldLogger
}

// NewEngine validates layout and returns an engine that measures text with m
func NewEngine(layout Layout, m Measurer, log logrus.FieldLogger) (*Engine, error) {
	if m == nil {
		return nil, validationErrorf("a text measurer is required")
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{layout: layout, measure: m, log: log}, nil
}

// Layout returns the engine's page geometry
func (e *Engine) Layout() Layout {
	return e.layout
}

// gaps below the title and below the timestamp, in subtitle heights
const (
	titleStampGap = 1.8
	titleBlockGap = 1.5
)

type layoutState int

const (
	stateAwaitingHeader layoutState = iota
	stateDrawingRows
	statePageBreak
	stateDone
)

// pageCursor is the write position of a single render run
type pageCursor struct {
	page int
	y    float64
}

// run accumulates the pages of one Render call
type run struct {
	l      Layout
	m      Measurer
	cursor pageCursor
	pages  [][]Instruction
}

// Render lays out records in order and returns the complete instruction
// stream, starting with NewPage. Every page opens with the table header and
// closes with a "page i of N" footer.
func (e *Engine) Render(records []models.Vehicle, meta RunMeta) ([]Instruction, error) {
	if len(records) == 0 {
		return nil, validationErrorf("no records to render")
	}

	r := &run{
		l:      e.layout,
		m:      e.measure,
		cursor: pageCursor{page: 0, y: e.layout.TopMargin},
		pages:  make([][]Instruction, 1),
	}
	if meta.Title != "" {
		r.titleBlock(meta)
	}

	state := stateAwaitingHeader
	next := 0
	for state != stateDone {
		switch state {
		case stateAwaitingHeader:
			r.headerBand()
			state = stateDrawingRows
		case stateDrawingRows:
			switch {
			case next == len(records):
				state = stateDone
			case !r.rowFits():
				state = statePageBreak
			default:
				r.row(next, &records[next])
				next++
			}
		case statePageBreak:
			r.breakPage()
			state = stateAwaitingHeader
		}
	}

	// page count is only known now
	r.footers(meta)
	out := r.flatten()

	e.log.WithFields(logrus.Fields{
		"records":      len(records),
		"pages":        len(r.pages),
		"instructions": len(out),
	}).Debug("manifest laid out")
	return out, nil
}

func (r *run) emit(in Instruction) {
	r.pages[r.cursor.page] = append(r.pages[r.cursor.page], in)
}

func (r *run) pt(size float64) float64 {
	return size * r.l.PointSize
}

func (r *run) rowFits() bool {
	return r.cursor.y+r.l.RowHeight <= r.l.PageHeight-r.l.BottomMargin
}

func (r *run) breakPage() {
	r.cursor.page++
	r.cursor.y = r.l.TopMargin
	r.pages = append(r.pages, nil)
}

func (r *run) titleBlock(meta RunMeta) {
	left := r.l.Columns.Left()
	y := r.cursor.y + r.pt(r.l.TitleFontSize)
	r.emit(Text{X: left, Y: y, Text: meta.Title, Font: Font{Size: r.l.TitleFontSize, Bold: true}, Color: Black})

	if !meta.GeneratedAt.IsZero() && r.l.Labels.GeneratedAt != "" {
		y += r.pt(r.l.SubtitleSize) * titleStampGap
		stamp := fmt.Sprintf(r.l.Labels.GeneratedAt, meta.GeneratedAt.Format(r.l.Labels.TimeFormat))
		r.emit(Text{X: left, Y: y, Text: stamp, Font: Font{Size: r.l.SubtitleSize}, Color: r.l.MutedColor})
	}
	r.cursor.y = y + r.pt(r.l.SubtitleSize)*titleBlockGap
}

func (r *run) headerBand() {
	cols := r.l.Columns
	left, right := cols.Left(), cols.Right()
	top := r.cursor.y
	font := Font{Size: r.l.HeaderFontSize, Bold: true}

	r.emit(FillRect{X: left, Y: top, W: right - left, H: r.l.HeaderHeight, Color: r.l.HeaderFill})
	baseline := r.centeredBaselines(top+r.l.HeaderHeight/2, font.Size)[0]
	for _, col := range cols {
		r.emit(Text{X: col.X + r.l.CellPadding, Y: baseline, Text: col.Title, Font: font, Color: Black})
	}
	r.emit(Line{X1: left, Y1: top + r.l.HeaderHeight, X2: right, Y2: top + r.l.HeaderHeight, Width: 0.5, Color: Black})
	r.cursor.y = top + r.l.HeaderHeight
}

// row draws one record in the fixed cell order: photo, index, driver and
// company, plate, model, value, payment status, separator, signature slot.
func (r *run) row(i int, v *models.Vehicle) {
	l := r.l
	top := r.cursor.y
	mid := top + l.RowHeight/2
	body := Font{Size: l.BodyFontSize}

	if col, ok := l.Columns.Find(ColumnPhoto); ok {
		r.photoCell(col, v, mid)
	}
	if col, ok := l.Columns.Find(ColumnIndex); ok {
		r.lines(col, mid, []string{strconv.Itoa(i + 1)}, body)
	}
	if col, ok := l.Columns.Find(ColumnDriver); ok {
		r.driverCell(col, v, mid)
	}
	if col, ok := l.Columns.Find(ColumnPlate); ok {
		r.lines(col, mid, []string{v.LicensePlate}, body)
	}
	if col, ok := l.Columns.Find(ColumnModel); ok {
		r.lines(col, mid, r.wrap(v.VehicleModel, body, r.cellWidth(col), l.MaxModelLines), body)
	}
	if col, ok := l.Columns.Find(ColumnValue); ok {
		r.lines(col, mid, []string{v.DeclaredValue}, body)
	}
	if col, ok := l.Columns.Find(ColumnStatus); ok {
		r.statusCell(col, v.Status(), mid)
	}

	bottom := top + l.RowHeight
	r.emit(Line{X1: l.Columns.Left(), Y1: bottom, X2: l.Columns.Right(), Y2: bottom, Width: 0.1, Color: l.RuleColor})

	if col, ok := l.Columns.Find(ColumnSign); ok {
		y := mid + l.RowHeight/4
		r.emit(Line{X1: col.X + l.CellPadding, Y1: y, X2: col.X + col.Width - l.CellPadding, Y2: y, Width: 0.1, Color: Black})
	}
	r.cursor.y = bottom
}

func (r *run) photoCell(col Column, v *models.Vehicle, mid float64) {
	l := r.l
	if !v.HasPhoto() {
		if l.Labels.NoPhoto != "" {
			small := Font{Size: l.SmallFontSize}
			text := r.clip(l.Labels.NoPhoto, small, r.cellWidth(col))
			r.emit(Text{X: col.X + l.CellPadding, Y: r.centeredBaselines(mid, small.Size)[0], Text: text, Font: small, Color: l.MutedColor})
		}
		return
	}

	box := l.PhotoSize
	if col.Width < box {
		box = col.Width
	}
	w, h := box, box
	if pw, ph := v.Photo.PixelWidth, v.Photo.PixelHeight; pw > 0 && ph > 0 {
		if pw >= ph {
			h = box * float64(ph) / float64(pw)
		} else {
			w = box * float64(pw) / float64(ph)
		}
	}
	r.emit(Image{
		X:        col.X + (col.Width-w)/2,
		Y:        mid - h/2,
		W:        w,
		H:        h,
		Data:     v.Photo.EncodedBytes,
		MIMEType: v.Photo.MIMEType,
		RecordID: v.ID,
	})
}

func (r *run) driverCell(col Column, v *models.Vehicle, mid float64) {
	l := r.l
	body := Font{Size: l.BodyFontSize}
	width := r.cellWidth(col)
	name := r.clip(v.DriverName, body, width)

	if strings.TrimSpace(v.CompanyName) == "" {
		r.lines(col, mid, []string{name}, body)
		return
	}

	small := Font{Size: l.SmallFontSize}
	ys := r.centeredBaselines(mid, body.Size, small.Size)
	r.emit(Text{X: col.X + l.CellPadding, Y: ys[0], Text: name, Font: body, Color: Black})
	r.emit(Text{X: col.X + l.CellPadding, Y: ys[1], Text: r.clip(v.CompanyName, small, width), Font: small, Color: l.MutedColor})
}

func (r *run) statusCell(col Column, status models.PaymentStatus, mid float64) {
	l := r.l
	color, label := l.PendingColor, l.Labels.Pending
	if status == models.PaymentPaid {
		color, label = l.PaidColor, l.Labels.Paid
	}

	cx := col.X + l.CellPadding + l.MarkerRadius
	r.emit(FillCircle{X: cx, Y: mid, R: l.MarkerRadius, Color: color})

	font := Font{Size: l.BodyFontSize}
	x := cx + l.MarkerRadius + l.CellPadding/2
	text := r.clip(label, font, col.X+col.Width-l.CellPadding-x)
	r.emit(Text{X: x, Y: r.centeredBaselines(mid, font.Size)[0], Text: text, Font: font, Color: Black})
}

// lines places text lines of one font vertically centred on mid, each
// clipped to the cell width.
func (r *run) lines(col Column, mid float64, texts []string, font Font) {
	if len(texts) == 0 {
		return
	}
	sizes := make([]float64, len(texts))
	for i := range sizes {
		sizes[i] = font.Size
	}
	width := r.cellWidth(col)
	for i, y := range r.centeredBaselines(mid, sizes...) {
		r.emit(Text{X: col.X + r.l.CellPadding, Y: y, Text: r.clip(texts[i], font, width), Font: font, Color: Black})
	}
}

// centeredBaselines stacks lines of the given font sizes into a block
// centred on mid and returns each line's baseline.
func (r *run) centeredBaselines(mid float64, sizes ...float64) []float64 {
	total := 0.0
	for _, s := range sizes {
		total += r.l.lineHeight(s)
	}
	y := mid - total/2
	out := make([]float64, len(sizes))
	for i, s := range sizes {
		h := r.l.lineHeight(s)
		out[i] = y + h*0.8
		y += h
	}
	return out
}

func (r *run) cellWidth(col Column) float64 {
	return col.Width - 2*r.l.CellPadding
}

// clip cuts s to the longest prefix whose measured width fits limit
func (r *run) clip(s string, font Font, limit float64) string {
	return clipText(r.m, s, font, limit)
}

func (r *run) wrap(s string, font Font, limit float64, maxLines int) []string {
	return wrapText(r.m, s, font, limit, maxLines)
}

func clipText(m Measurer, s string, font Font, limit float64) string {
	if limit <= 0 {
		return ""
	}
	if m.StringWidth(s, font) <= limit {
		return s
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		n := (lo + hi + 1) / 2
		if m.StringWidth(string(runes[:n]), font) <= limit {
			lo = n
		} else {
			hi = n - 1
		}
	}
	return strings.TrimRightFunc(string(runes[:lo]), unicode.IsSpace)
}

// wrapText breaks s on spaces into lines no wider than limit. Lines past
// maxLines are folded into the last one, which is then clipped.
func wrapText(m Measurer, s string, font Font, limit float64, maxLines int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := ""
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if cur == "" || m.StringWidth(candidate, font) <= limit {
			cur = candidate
			continue
		}
		lines = append(lines, cur)
		cur = w
	}
	lines = append(lines, cur)

	if len(lines) > maxLines {
		tail := strings.Join(lines[maxLines-1:], " ")
		lines = append(lines[:maxLines-1], tail)
	}
	for i := range lines {
		lines[i] = clipText(m, lines[i], font, limit)
	}
	return lines
}

func (r *run) footers(meta RunMeta) {
	l := r.l
	total := len(r.pages)
	font := Font{Size: l.FooterFontSize}
	y := l.PageHeight - l.BottomMargin/2
	left, right := l.Columns.Left(), l.Columns.Right()
	operator := strings.TrimSpace(meta.Operator)
	if operator == "" {
		operator = l.Labels.NoOperator
	}

	for i := range r.pages {
		r.cursor.page = i
		if l.Labels.Operator != "" {
			r.emit(Text{X: left, Y: y, Text: fmt.Sprintf(l.Labels.Operator, operator), Font: font, Color: l.MutedColor})
		}
		label := fmt.Sprintf(l.Labels.Page, i+1, total)
		r.emit(Text{X: right - r.m.StringWidth(label, font), Y: y, Text: label, Font: font, Color: l.MutedColor})
	}
}

func (r *run) flatten() []Instruction {
	n := 0
	for _, p := range r.pages {
		n += len(p) + 1
	}
	out := make([]Instruction, 0, n)
	for i, p := range r.pages {
		out = append(out, NewPage{Index: i})
		out = append(out, p...)
	}
	return out
}
