package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"vehicle-scan/pkg/models"
)

const (
	DefaultMaxDimension = 500
	DefaultQuality      = 0.5

	canonicalMIMEType = "image/jpeg"
)

var (
	// ErrDecode is returned when the raw bytes are not a decodable raster image
	ErrDecode = errors.New("imageproc: cannot decode image")
	// ErrEncode is the encode failure of a single image. Callers drop the
	// photo and keep the record.
	ErrEncode = errors.New("imageproc: cannot encode image")
	// ErrInvalidParams reports a non-positive dimension cap or a quality outside (0,1]
	ErrInvalidParams = errors.New("imageproc: invalid normalization parameters")
)

// Normalize decodes raw, turns it upright according to o, shrinks it so
// neither side exceeds maxDimension and re-encodes it as JPEG at quality
// (0-1]. The output is a pure function of the inputs: the standard JPEG
// encoder and the Lanczos resampler are deterministic, so equal inputs give
// byte-identical results.
func Normalize(raw []byte, o Orientation, maxDimension int, quality float64) (models.CanonicalImage, error) {
	if maxDimension <= 0 || quality <= 0 || quality > 1 || math.IsNaN(quality) {
		return models.CanonicalImage{}, fmt.Errorf("%w: maxDimension=%d quality=%v", ErrInvalidParams, maxDimension, quality)
	}

	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return models.CanonicalImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img := o.Apply(src)

	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), maxDimension)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return models.CanonicalImage{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return models.CanonicalImage{
		PixelWidth:   w,
		PixelHeight:  h,
		EncodedBytes: buf.Bytes(),
		MIMEType:     canonicalMIMEType,
	}, nil
}

// FitWithin scales (w, h) uniformly so the longer side is at most limit.
// Images already within bounds are returned unchanged; nothing is upscaled.
func FitWithin(w, h, limit int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= limit || longest == 0 {
		return w, h
	}
	scale := float64(limit) / float64(longest)
	return scaleSide(w, scale, limit), scaleSide(h, scale, limit)
}

func scaleSide(v int, scale float64, limit int) int {
	s := int(math.Round(float64(v) * scale))
	if s < 1 {
		return 1
	}
	if s > limit {
		return limit
	}
	return s
}

func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// Normalizer holds the configured size cap and quality for canonical images
type Normalizer struct {
	MaxDimension int
	Quality      float64

	log logrus.FieldLogger
}

// NewNormalizer creates a Normalizer. Zero values fall back to the defaults.
func NewNormalizer(maxDimension int, quality float64, log logrus.FieldLogger) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 1 {
		quality = DefaultQuality
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Normalizer{MaxDimension: maxDimension, Quality: quality, log: log}
}

// Process reads the orientation of raw and produces its canonical image
func (n *Normalizer) Process(raw []byte) (models.CanonicalImage, error) {
	o := DecodeOrientation(raw)

	out, err := Normalize(raw, o, n.MaxDimension, n.Quality)
	if err != nil {
		n.log.WithFields(logrus.Fields{
			"input_bytes": len(raw),
			"orientation": o.String(),
		}).WithError(err).Warn("photo normalization failed")
		return models.CanonicalImage{}, err
	}

	n.log.WithFields(logrus.Fields{
		"input_bytes":  len(raw),
		"output_bytes": len(out.EncodedBytes),
		"orientation":  o.String(),
		"width":        out.PixelWidth,
		"height":       out.PixelHeight,
	}).Debug("photo normalized")
	return out, nil
}
