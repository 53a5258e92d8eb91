package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
)

// BoundaryLabel marks object outlines in VOC masks; it is read as background.
const BoundaryLabel = 255

// ImageProcessor resizes decoded images to a square target with
// nearest-neighbour sampling.
type ImageProcessor struct {
	targetSize int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// TargetSize returns the side length of processed images.
func (p *ImageProcessor) TargetSize() int { return p.targetSize }

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// LoadImage decodes the image file at path.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeAndPreprocess decodes an image and preprocesses it for neural network input
// Returns data in CHW format (channels, height, width) normalized to [0, 1]
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, err := Decode(reader)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(img)
}

// Preprocess resizes img and converts it to RGB floats in CHW layout.
func (p *ImageProcessor) Preprocess(img image.Image) (*ProcessedImage, error) {
	if p.targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.targetSize)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	plane := p.targetSize * p.targetSize
	data := make([]float32, 3*plane)
	p.sample(bounds, func(x, y, srcX, srcY int) {
		r, g, b, _ := img.At(srcX, srcY).RGBA()
		idx := y*p.targetSize + x
		data[idx] = float32(r) / 65535.0
		data[plane+idx] = float32(g) / 65535.0
		data[2*plane+idx] = float32(b) / 65535.0
	})

	return &ProcessedImage{
		Data:     data,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// ResizeMask resizes a class mask and returns one class index per pixel.
// Paletted masks are read by palette index, anything else by gray level.
// BoundaryLabel becomes 0; other values must be below classes.
func (p *ImageProcessor) ResizeMask(img image.Image, classes int) ([]int32, error) {
	if p.targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.targetSize)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty mask")
	}

	paletted, isPaletted := img.(*image.Paletted)
	mask := make([]int32, p.targetSize*p.targetSize)
	bad := -1
	p.sample(bounds, func(x, y, srcX, srcY int) {
		var v int
		if isPaletted {
			v = int(paletted.ColorIndexAt(srcX, srcY))
		} else {
			v = int(color.GrayModel.Convert(img.At(srcX, srcY)).(color.Gray).Y)
		}
		if v == BoundaryLabel {
			v = 0
		}
		if v >= classes && bad < 0 {
			bad = v
		}
		mask[y*p.targetSize+x] = int32(v)
	})
	if bad >= 0 {
		return nil, fmt.Errorf("mask value %d out of range for %d classes", bad, classes)
	}
	return mask, nil
}

// sample visits every target pixel with its nearest source pixel.
func (p *ImageProcessor) sample(bounds image.Rectangle, visit func(x, y, srcX, srcY int)) {
	width, height := bounds.Dx(), bounds.Dy()
	for y := 0; y < p.targetSize; y++ {
		srcY := bounds.Min.Y + y*height/p.targetSize
		for x := 0; x < p.targetSize; x++ {
			srcX := bounds.Min.X + x*width/p.targetSize
			visit(x, y, srcX, srcY)
		}
	}
}
