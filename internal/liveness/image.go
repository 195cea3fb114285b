package liveness

// RGBImage is an 8-bit RGB raster stored row-major, top-to-bottom,
// left-to-right, three bytes per pixel in R, G, B order.
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRGBImage allocates a black width x height raster.
func NewRGBImage(width, height int) *RGBImage {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &RGBImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// Fill sets every pixel to the same colour.
func (m *RGBImage) Fill(r, g, b uint8) {
	for i := 0; i+2 < len(m.Pix); i += Channels {
		m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
	}
}

// Set writes the pixel at (x, y). Out-of-range coordinates are ignored.
func (m *RGBImage) Set(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	i := (y*m.Width + x) * Channels
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// At returns the pixel at (x, y), or black when out of range.
func (m *RGBImage) At(x, y int) (r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0, 0, 0
	}
	i := (y*m.Width + x) * Channels
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}
