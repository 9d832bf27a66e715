package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Column keys understood by the engine. A layout may omit any of them.
const (
	ColumnIndex  = "index"
	ColumnPhoto  = "photo"
	ColumnDriver = "driver"
	ColumnPlate  = "plate"
	ColumnModel  = "model"
	ColumnValue  = "value"
	ColumnStatus = "status"
	ColumnSign   = "sign"
)

// Column places one table column. The same geometry drives the header
// label and every body cell of the column.
type Column struct {
	Key   string  `yaml:"key"`
	X     float64 `yaml:"x"`
	Width float64 `yaml:"width"`
	Title string  `yaml:"title"`
}

// Columns is an ordered column schema
type Columns []Column

// Find returns the column with the given key
func (c Columns) Find(key string) (Column, bool) {
	for _, col := range c {
		if col.Key == key {
			return col, true
		}
	}
	return Column{}, false
}

// Left is the x offset of the table, i.e. the left margin
func (c Columns) Left() float64 {
	if len(c) == 0 {
		return 0
	}
	return c[0].X
}

// Right is where the last column ends
func (c Columns) Right() float64 {
	if len(c) == 0 {
		return 0
	}
	last := c[len(c)-1]
	return last.X + last.Width
}

// Validate checks that columns are non-empty, strictly increasing,
// non-overlapping and end within the page.
func (c Columns) Validate(pageWidth float64) error {
	if len(c) == 0 {
		return validationErrorf("column schema is empty")
	}
	seen := make(map[string]bool, len(c))
	for i, col := range c {
		if col.Key == "" {
			return validationErrorf("column %d has no key", i)
		}
		if seen[col.Key] {
			return validationErrorf("column %q appears twice", col.Key)
		}
		seen[col.Key] = true
		if col.X < 0 {
			return validationErrorf("column %q starts at negative offset %.2f", col.Key, col.X)
		}
		if col.Width <= 0 {
			return validationErrorf("column %q has non-positive width %.2f", col.Key, col.Width)
		}
		if i > 0 {
			prev := c[i-1]
			if col.X <= prev.X {
				return validationErrorf("column %q offset %.2f is not after %q", col.Key, col.X, prev.Key)
			}
			if col.X < prev.X+prev.Width {
				return validationErrorf("column %q overlaps %q", col.Key, prev.Key)
			}
		}
	}
	if c.Right() > pageWidth {
		return validationErrorf("table ends at %.2f beyond page width %.2f", c.Right(), pageWidth)
	}
	return nil
}

// Labels are the fixed strings printed by the engine. Format strings take
// fmt verbs as noted.
type Labels struct {
	Paid        string `yaml:"paid"`
	Pending     string `yaml:"pending"`
	NoPhoto     string `yaml:"no_photo"`
	Page        string `yaml:"page"`         // page number, page count
	Operator    string `yaml:"operator"`     // operator identity
	NoOperator  string `yaml:"no_operator"`  // identity printed when none was supplied
	GeneratedAt string `yaml:"generated_at"` // formatted timestamp
	TimeFormat  string `yaml:"time_format"`
}

// Layout is the page geometry and styling of a manifest. Lengths are in
// layout units (millimetres for the default A4 layout); font sizes are in
// points and PointSize converts them to layout units.
type Layout struct {
	PageWidth    float64 `yaml:"page_width"`
	PageHeight   float64 `yaml:"page_height"`
	TopMargin    float64 `yaml:"top_margin"`
	BottomMargin float64 `yaml:"bottom_margin"`
	PointSize    float64 `yaml:"point_size"`

	HeaderHeight float64 `yaml:"header_height"`
	RowHeight    float64 `yaml:"row_height"`
	PhotoSize    float64 `yaml:"photo_size"`
	CellPadding  float64 `yaml:"cell_padding"`
	MarkerRadius float64 `yaml:"marker_radius"`

	TitleFontSize  float64 `yaml:"title_font_size"`
	SubtitleSize   float64 `yaml:"subtitle_font_size"`
	HeaderFontSize float64 `yaml:"header_font_size"`
	BodyFontSize   float64 `yaml:"body_font_size"`
	SmallFontSize  float64 `yaml:"small_font_size"`
	FooterFontSize float64 `yaml:"footer_font_size"`
	LineSpacing    float64 `yaml:"line_spacing"`
	MaxModelLines  int     `yaml:"max_model_lines"`

	HeaderFill   Color `yaml:"header_fill"`
	RuleColor    Color `yaml:"rule_color"`
	MutedColor   Color `yaml:"muted_color"`
	PaidColor    Color `yaml:"paid_color"`
	PendingColor Color `yaml:"pending_color"`

	Columns Columns `yaml:"columns"`
	Labels  Labels  `yaml:"labels"`
}

// DefaultColumns is the A4 portrait manifest table
func DefaultColumns() Columns {
	return Columns{
		{Key: ColumnIndex, X: 10, Width: 7, Title: "#"},
		{Key: ColumnPhoto, X: 17, Width: 16, Title: "Photo"},
		{Key: ColumnDriver, X: 33, Width: 38, Title: "Driver"},
		{Key: ColumnPlate, X: 71, Width: 20, Title: "Plate"},
		{Key: ColumnModel, X: 91, Width: 33, Title: "Model"},
		{Key: ColumnValue, X: 124, Width: 24, Title: "Value"},
		{Key: ColumnStatus, X: 148, Width: 22, Title: "Status"},
		{Key: ColumnSign, X: 170, Width: 30, Title: "Signature"},
	}
}

// DefaultLabels are the English report strings
func DefaultLabels() Labels {
	return Labels{
		Paid:        "Paid",
		Pending:     "Pending",
		Page:        "page %d of %d",
		Operator:    "Operator: %s",
		NoOperator:  "unidentified",
		GeneratedAt: "Generated at: %s",
		TimeFormat:  "02/01/2006 15:04:05",
	}
}

// DefaultLayout is an A4 portrait page measured in millimetres
func DefaultLayout() Layout {
	return Layout{
		PageWidth:    210,
		PageHeight:   297,
		TopMargin:    20,
		BottomMargin: 20,
		PointSize:    25.4 / 72,

		HeaderHeight: 7,
		RowHeight:    18,
		PhotoSize:    12,
		CellPadding:  2,
		MarkerRadius: 1.2,

		TitleFontSize:  18,
		SubtitleSize:   10,
		HeaderFontSize: 9,
		BodyFontSize:   9,
		SmallFontSize:  7,
		FooterFontSize: 8,
		LineSpacing:    1.2,
		MaxModelLines:  2,

		HeaderFill:   Color{240, 240, 240},
		RuleColor:    Color{200, 200, 200},
		MutedColor:   Color{100, 100, 100},
		PaidColor:    Color{34, 139, 34},
		PendingColor: Color{230, 150, 0},

		Columns: DefaultColumns(),
		Labels:  DefaultLabels(),
	}
}

// Validate checks that a header band and at least one row fit on every
// page, below the title block on the first, and that every cell's content
// fits inside its row.
func (l Layout) Validate() error {
	if l.PageWidth <= 0 || l.PageHeight <= 0 {
		return validationErrorf("page size %.2fx%.2f is not positive", l.PageWidth, l.PageHeight)
	}
	if l.TopMargin < 0 || l.BottomMargin < 0 {
		return validationErrorf("margins must not be negative")
	}
	if l.PointSize <= 0 || l.LineSpacing <= 0 {
		return validationErrorf("point size and line spacing must be positive")
	}
	if l.HeaderHeight <= 0 || l.RowHeight <= 0 {
		return validationErrorf("header height and row height must be positive")
	}
	if l.PhotoSize <= 0 || l.PhotoSize > l.RowHeight {
		return validationErrorf("photo size %.2f must be positive and at most the row height %.2f", l.PhotoSize, l.RowHeight)
	}
	for name, size := range map[string]float64{
		"title": l.TitleFontSize, "subtitle": l.SubtitleSize, "header": l.HeaderFontSize,
		"body": l.BodyFontSize, "small": l.SmallFontSize, "footer": l.FooterFontSize,
	} {
		if size <= 0 {
			return validationErrorf("%s font size must be positive", name)
		}
	}
	if l.TopMargin+l.HeaderHeight+l.RowHeight > l.PageHeight-l.BottomMargin {
		return validationErrorf("a header band and one row do not fit between the margins")
	}
	if l.TopMargin+l.TitleBlockHeight()+l.HeaderHeight+l.RowHeight > l.PageHeight-l.BottomMargin {
		return validationErrorf("the title block, a header band and one row do not fit on the first page")
	}
	if l.MaxModelLines < 1 {
		return validationErrorf("max model lines must be at least 1")
	}
	if float64(l.MaxModelLines)*l.lineHeight(l.BodyFontSize) > l.RowHeight {
		return validationErrorf("%d model lines do not fit in a %.2f row", l.MaxModelLines, l.RowHeight)
	}
	if l.lineHeight(l.BodyFontSize)+l.lineHeight(l.SmallFontSize) > l.RowHeight {
		return validationErrorf("driver and company lines do not fit in a %.2f row", l.RowHeight)
	}
	if l.Labels.Page == "" {
		return validationErrorf("page label is required")
	}
	return l.Columns.Validate(l.PageWidth)
}

// TitleBlockHeight is the space the title and timestamp take above the
// first header band
func (l Layout) TitleBlockHeight() float64 {
	return l.TitleFontSize*l.PointSize + l.SubtitleSize*l.PointSize*(titleStampGap+titleBlockGap)
}

func (l Layout) lineHeight(fontSize float64) float64 {
	return fontSize * l.PointSize * l.LineSpacing
}

// LoadLayout reads a YAML layout. Keys that are absent keep their default
// values; a columns list, when present, replaces the default table.
func LoadLayout(r io.Reader) (Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read layout: %w", err)
	}
	layout := DefaultLayout()
	if len(bytes.TrimSpace(data)) == 0 {
		return layout, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&layout); err != nil && !errors.Is(err, io.EOF) {
		return Layout{}, fmt.Errorf("failed to parse layout: %w", err)
	}

	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// LoadLayoutFile reads a YAML layout from path
func LoadLayoutFile(path string) (Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to open layout: %w", err)
	}
	defer f.Close()
	return LoadLayout(f)
}
