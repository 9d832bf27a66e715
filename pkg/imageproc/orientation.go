package imageproc

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Orientation is the EXIF flag describing how a camera stored the pixels
// relative to the upright scene. Values 1-8 follow the EXIF convention; the
// negative values are sentinels that mean "leave the pixels alone".
type Orientation int

const (
	OrientationNotJPEG Orientation = -2
	OrientationUnknown Orientation = -1

	OrientationNormal     Orientation = 1
	OrientationFlipH      Orientation = 2
	OrientationRotate180  Orientation = 3
	OrientationFlipV      Orientation = 4
	OrientationTranspose  Orientation = 5
	OrientationRotate270  Orientation = 6
	OrientationTransverse Orientation = 7
	OrientationRotate90   Orientation = 8
)

// MaxOrientationPrefix bounds how much of a file DecodeOrientation inspects.
// Metadata segments sit right after the start-of-image marker.
const MaxOrientationPrefix = 64 * 1024

const (
	markerSOI  = 0xffd8
	markerAPP1 = 0xffe1
	markerSOS  = 0xffda
	markerEOI  = 0xffd9

	exifSignature  = 0x45786966 // "Exif"
	byteOrderLE    = 0x4949     // "II"
	byteOrderBE    = 0x4d4d     // "MM"
	tiffMagic      = 42
	orientationTag = 0x0112
	ifdEntrySize   = 12
)

// Valid reports whether o is one of the eight EXIF codes
func (o Orientation) Valid() bool {
	return o >= OrientationNormal && o <= OrientationRotate90
}

// Transposes reports whether correcting o exchanges width and height.
func (o Orientation) Transposes() bool {
	return o >= OrientationTranspose && o <= OrientationRotate90
}

func (o Orientation) String() string {
	switch o {
	case OrientationNotJPEG:
		return "not-jpeg"
	case OrientationUnknown:
		return "unknown"
	case OrientationNormal:
		return "normal"
	case OrientationFlipH:
		return "flip-h"
	case OrientationRotate180:
		return "rotate-180"
	case OrientationFlipV:
		return "flip-v"
	case OrientationTranspose:
		return "transpose"
	case OrientationRotate270:
		return "rotate-270"
	case OrientationTransverse:
		return "transverse"
	case OrientationRotate90:
		return "rotate-90"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Apply returns img drawn upright. Sentinels and Normal return img unchanged.
func (o Orientation) Apply(img image.Image) image.Image {
	switch o {
	case OrientationFlipH:
		return imaging.FlipH(img)
	case OrientationRotate180:
		return imaging.Rotate180(img)
	case OrientationFlipV:
		return imaging.FlipV(img)
	case OrientationTranspose:
		return imaging.Transpose(img)
	case OrientationRotate270:
		return imaging.Rotate270(img)
	case OrientationTransverse:
		return imaging.Transverse(img)
	case OrientationRotate90:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// DecodeOrientation reads the EXIF orientation flag from the head of a JPEG
// stream. It never fails: buffers without a start-of-image marker yield
// OrientationNotJPEG, and any missing, truncated or inconsistent metadata
// yields OrientationUnknown.
func DecodeOrientation(buf []byte) Orientation {
	if len(buf) > MaxOrientationPrefix {
		buf = buf[:MaxOrientationPrefix]
	}
	if len(buf) < 2 || binary.BigEndian.Uint16(buf) != markerSOI {
		return OrientationNotJPEG
	}

	off := 2
	for off+4 <= len(buf) {
		marker := binary.BigEndian.Uint16(buf[off:])
		if marker == 0xffff {
			// fill byte before a marker
			off++
			continue
		}
		if marker>>8 != 0xff || marker == markerSOS || marker == markerEOI {
			return OrientationUnknown
		}
		size := int(binary.BigEndian.Uint16(buf[off+2:]))
		if size < 2 {
			return OrientationUnknown
		}
		end := off + 2 + size
		if marker == markerAPP1 {
			if end > len(buf) {
				end = len(buf)
			}
			return readExifOrientation(buf[off+4 : end])
		}
		off = end
	}
	return OrientationUnknown
}

// readExifOrientation walks IFD0 of an APP1 payload
func readExifOrientation(seg []byte) Orientation {
	// "Exif\0\0" then the TIFF header
	if len(seg) < 6 || binary.BigEndian.Uint32(seg) != exifSignature || seg[4] != 0 || seg[5] != 0 {
		return OrientationUnknown
	}
	tiff := seg[6:]
	if len(tiff) < 8 {
		return OrientationUnknown
	}

	var order binary.ByteOrder
	switch binary.BigEndian.Uint16(tiff) {
	case byteOrderLE:
		order = binary.LittleEndian
	case byteOrderBE:
		order = binary.BigEndian
	default:
		return OrientationUnknown
	}
	if order.Uint16(tiff[2:]) != tiffMagic {
		return OrientationUnknown
	}

	ifd := int64(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > int64(len(tiff)) {
		return OrientationUnknown
	}
	count := int(order.Uint16(tiff[ifd:]))
	entries := int(ifd) + 2
	for i := 0; i < count; i++ {
		e := entries + i*ifdEntrySize
		if e+ifdEntrySize > len(tiff) {
			return OrientationUnknown
		}
		if order.Uint16(tiff[e:]) != orientationTag {
			continue
		}
		o := Orientation(order.Uint16(tiff[e+8:]))
		if !o.Valid() {
			return OrientationUnknown
		}
		return o
	}
	return OrientationUnknown
}
