package liveness

const (
	// InputSize is the fixed width and height of the model input.
	InputSize = 224
	// Channels is the number of colour channels per pixel.
	Channels = 3
)

// inputShape is NHWC: batch, height, width, channel.
var inputShape = []int64{1, InputSize, InputSize, Channels}

// InputShape returns a copy of the model input shape.
func InputShape() []int64 {
	return append([]int64(nil), inputShape...)
}

// Validate checks img against the input contract without touching pixels.
func Validate(img *RGBImage) error {
	if img == nil {
		return &InvalidInputError{Reason: "image is nil"}
	}
	if img.Width != InputSize || img.Height != InputSize {
		return &InvalidInputError{Width: img.Width, Height: img.Height}
	}
	if want := img.Width * img.Height * Channels; len(img.Pix) != want {
		return &InvalidInputError{
			Width:  img.Width,
			Height: img.Height,
			Reason: "pixel buffer length does not match dimensions",
		}
	}
	return nil
}

// Preprocess converts img into the model's input tensor: shape (1,224,224,3),
// element (0,y,x,c) is channel c of pixel (x,y) divided by 255.
func Preprocess(img *RGBImage) ([]float32, error) {
	if err := Validate(img); err != nil {
		return nil, err
	}

	input := make([]float32, InputSize*InputSize*Channels)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			src := (y*img.Width + x) * Channels
			dst := (y*InputSize + x) * Channels
			input[dst] = float32(img.Pix[src]) / 255.0
			input[dst+1] = float32(img.Pix[src+1]) / 255.0
			input[dst+2] = float32(img.Pix[src+2]) / 255.0
		}
	}
	return input, nil
}
