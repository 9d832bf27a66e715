package report

import "context"

// Color is an RGB colour used by drawing instructions
type Color struct {
	R uint8 `yaml:"r"`
	G uint8 `yaml:"g"`
	B uint8 `yaml:"b"`
}

var (
	Black = Color{0, 0, 0}
	White = Color{255, 255, 255}
)

// Font selects the size (in points) and weight of placed text
type Font struct {
	Size float64
	Bold bool
}

// Instruction is one primitive drawing operation. Coordinates are absolute
// page coordinates in layout units with the origin at the top-left corner.
type Instruction interface {
	instruction()
}

// NewPage starts page Index (zero-based). Every instruction stream begins
// with one.
type NewPage struct {
	Index int
}

// Text places a single line of text with its baseline at Y
type Text struct {
	X, Y  float64
	Text  string
	Font  Font
	Color Color
}

// Image places an encoded raster image scaled into the W x H box at (X, Y)
type Image struct {
	X, Y, W, H float64
	Data       []byte
	MIMEType   string
	// RecordID identifies the row the image belongs to, for diagnostics.
	RecordID string
}

// Line draws a straight segment
type Line struct {
	X1, Y1, X2, Y2 float64
	Width          float64
	Color          Color
}

// FillRect draws a filled rectangle
type FillRect struct {
	X, Y, W, H float64
	Color      Color
}

// FillCircle draws a filled circle centred on (X, Y)
type FillCircle struct {
	X, Y, R float64
	Color   Color
}

func (NewPage) instruction()    {}
func (Text) instruction()       {}
func (Image) instruction()      {}
func (Line) instruction()       {}
func (FillRect) instruction()   {}
func (FillCircle) instruction() {}

// DocumentWriter serialises an instruction stream into document bytes.
// The stream is forward-only: no instruction refers to a later one.
// Implementations return no bytes unless the whole stream was written.
type DocumentWriter interface {
	Write(ctx context.Context, instructions []Instruction) ([]byte, error)
}

// Measurer reports the rendered width of text in layout units
type Measurer interface {
	StringWidth(s string, font Font) float64
}

// MonospaceMeasurer approximates every rune as PerPoint layout units wide
// per point of font size. Bold text is measured 10% wider.
type MonospaceMeasurer struct {
	PerPoint float64
}

func (m MonospaceMeasurer) StringWidth(s string, font Font) float64 {
	w := float64(len([]rune(s))) * font.Size * m.PerPoint
	if font.Bold {
		w *= 1.1
	}
	return w
}

// PageCount returns the number of pages in an instruction stream
func PageCount(instructions []Instruction) int {
	n := 0
	for _, in := range instructions {
		if _, ok := in.(NewPage); ok {
			n++
		}
	}
	return n
}

// SplitPages groups a stream by page, dropping the NewPage markers
func SplitPages(instructions []Instruction) [][]Instruction {
	var pages [][]Instruction
	for _, in := range instructions {
		if _, ok := in.(NewPage); ok {
			pages = append(pages, nil)
			continue
		}
		if len(pages) == 0 {
			pages = append(pages, nil)
		}
		pages[len(pages)-1] = append(pages[len(pages)-1], in)
	}
	return pages
}
