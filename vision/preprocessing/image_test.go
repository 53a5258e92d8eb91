package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// quadrantImage is a 4x4 image with a distinct colour per 2x2 quadrant.
func quadrantImage() *image.RGBA {
	colors := []color.RGBA{
		{255, 0, 0, 255}, {0, 255, 0, 255},
		{0, 0, 255, 255}, {255, 255, 255, 255},
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, colors[(y/2)*2+x/2])
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeAndPreprocess(t *testing.T) {
	p := NewImageProcessor(2)
	out, err := p.DecodeAndPreprocess(bytes.NewReader(encodePNG(t, quadrantImage())))
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	if out.Width != 2 || out.Height != 2 || out.Channels != 3 || len(out.Data) != 12 {
		t.Fatalf("unexpected output geometry: %+v", out)
	}

	// CHW: R plane, G plane, B plane; each pixel is one quadrant.
	want := []float32{
		1, 0, 0, 1,
		0, 1, 0, 1,
		0, 0, 1, 1,
	}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("Data[%d] = %v, want %v", i, out.Data[i], want[i])
		}
	}
}

func TestPreprocessJPEGRange(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, quadrantImage(), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode failed: %v", err)
	}
	out, err := NewImageProcessor(8).DecodeAndPreprocess(&buf)
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	if len(out.Data) != 3*8*8 {
		t.Fatalf("len = %d", len(out.Data))
	}
	for i, v := range out.Data {
		if v < 0 || v > 1 {
			t.Fatalf("Data[%d] = %v outside [0, 1]", i, v)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := NewImageProcessor(4).DecodeAndPreprocess(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("expected decode error")
	}
	if _, err := NewImageProcessor(0).Preprocess(quadrantImage()); err == nil {
		t.Error("expected error for zero target size")
	}
}

func TestResizeMask(t *testing.T) {
	palette := make(color.Palette, 256)
	for i := range palette {
		palette[i] = color.Gray{Y: uint8(i)}
	}

	t.Run("Paletted", func(t *testing.T) {
		mask := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				mask.SetColorIndex(x, y, uint8((y/2)*2+x/2))
			}
		}
		mask.SetColorIndex(0, 0, BoundaryLabel)
		mask.SetColorIndex(2, 0, 15)

		got, err := NewImageProcessor(2).ResizeMask(mask, 21)
		if err != nil {
			t.Fatalf("ResizeMask failed: %v", err)
		}
		want := []int32{0, 15, 2, 3}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("mask[%d] = %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("Gray", func(t *testing.T) {
		mask := image.NewGray(image.Rect(0, 0, 2, 2))
		mask.SetGray(1, 1, color.Gray{Y: 7})
		got, err := NewImageProcessor(2).ResizeMask(mask, 21)
		if err != nil {
			t.Fatalf("ResizeMask failed: %v", err)
		}
		if got[3] != 7 || got[0] != 0 {
			t.Errorf("mask = %v", got)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		mask := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
		mask.SetColorIndex(1, 0, 40)
		if _, err := NewImageProcessor(2).ResizeMask(mask, 21); err == nil {
			t.Error("expected error for class 40")
		}
	})
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quadrants.png")
	if err := os.WriteFile(path, encodePNG(t, quadrantImage()), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}
