// Package faceimage turns uploaded face pictures into liveness input rasters.
package faceimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
)

// intermediateSize is the square size a face crop is scaled to before the
// final nearest-neighbour scale to the model input size.
const intermediateSize = 160

// ErrEmptyBox is returned when a face box has no overlap with the image.
var ErrEmptyBox = errors.New("face box does not overlap the image")

// Decode decodes a JPEG, PNG or WebP image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("failed to decode image: empty payload")
	}
	return Decode(bytes.NewReader(data))
}

// CropFace cuts box out of img, clamped to the image bounds, and scales the
// result to the model input size.
func CropFace(img image.Image, box image.Rectangle) (image.Image, error) {
	clamped := box.Canon().Intersect(img.Bounds())
	if clamped.Empty() {
		return nil, fmt.Errorf("%w: box %v, image %v", ErrEmptyBox, box, img.Bounds())
	}

	face := imaging.Crop(img, clamped)
	face = imaging.Resize(face, intermediateSize, intermediateSize, imaging.Linear)
	return imaging.Resize(face, liveness.InputSize, liveness.InputSize, imaging.NearestNeighbor), nil
}

// ToRGB copies img into an RGB raster of the same dimensions. Alpha is
// dropped. The image is never resized.
func ToRGB(img image.Image) *liveness.RGBImage {
	b := img.Bounds()
	out := liveness.NewRGBImage(b.Dx(), b.Dy())

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			start := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[start : start+b.Dx()*4]
			for x := 0; x < b.Dx(); x++ {
				out.Set(x, y, row[x*4], row[x*4+1], row[x*4+2])
			}
		}
		return out
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Set(x-b.Min.X, y-b.Min.Y, c.R, c.G, c.B)
		}
	}
	return out
}

// ParseBox parses "x0,y0,x1,y1" into a rectangle.
func ParseBox(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid face box %q: expected x0,y0,x1,y1", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid face box %q: %w", s, err)
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

// FormatBox renders r in the form ParseBox accepts.
func FormatBox(r image.Rectangle) string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// DefaultMaxPixels bounds the declared size of an image that is decoded for
// cropping.
const DefaultMaxPixels = 4096 * 4096

// Prepare is PrepareWithLimit with DefaultMaxPixels.
func Prepare(data []byte, box *image.Rectangle) (*liveness.RGBImage, error) {
	return PrepareWithLimit(data, box, DefaultMaxPixels)
}

// PrepareWithLimit decodes data and, when box is non-nil, crops the face out
// of it. The header is checked before any pixel is decoded: without a box the
// image must already be 224x224, with a box it may declare at most maxPixels
// pixels (maxPixels <= 0 means DefaultMaxPixels). Size violations are
// reported as *liveness.InvalidInputError.
func PrepareWithLimit(data []byte, box *image.Rectangle, maxPixels int) (*liveness.RGBImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("failed to decode image: empty payload")
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &liveness.InvalidInputError{Width: cfg.Width, Height: cfg.Height, Reason: "image has no pixels"}
	}
	if box == nil && (cfg.Width != liveness.InputSize || cfg.Height != liveness.InputSize) {
		return nil, &liveness.InvalidInputError{Width: cfg.Width, Height: cfg.Height}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &liveness.InvalidInputError{
			Width:  cfg.Width,
			Height: cfg.Height,
			Reason: fmt.Sprintf("image exceeds %d pixels", maxPixels),
		}
	}

	img, _, err := DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	if box != nil {
		img, err = CropFace(img, *box)
		if err != nil {
			return nil, err
		}
	}
	return ToRGB(img), nil
}
