package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pascalrobust/advtrain/tensor"
	"github.com/pascalrobust/advtrain/training"
	"github.com/pascalrobust/advtrain/vision/preprocessing"
)

// Class counts of the VOC benchmark. Segmentation masks include background
// as class 0; classification labels cover the foreground classes only.
const (
	SegmentationClasses   = 21
	ClassificationClasses = 20
)

// DefaultImageSize is the side length samples are resized to.
const DefaultImageSize = 256

// ClassNames lists the VOC classes by mask value.
var ClassNames = []string{
	"background", "aeroplane", "bicycle", "bird", "boat", "bottle", "bus",
	"car", "cat", "chair", "cow", "diningtable", "dog", "horse", "motorbike",
	"person", "pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

// Options configures sample preparation.
type Options struct {
	ImageSize int
	CutOut    bool  // zero a random ImageSize/4 square per sample
	Smoothing bool  // smooth classification targets
	Seed      int64 // seeds the cut-out RNG
	Cache     *preprocessing.Cache
}

// DefaultOptions returns 256px samples with no tricks.
func DefaultOptions() Options {
	return Options{ImageSize: DefaultImageSize}
}

// VOC serves VOC images paired with their segmentation masks. Each mask
// labelDir/<stem>.png belongs to the image imageDir/<stem>.jpg.
type VOC struct {
	labelDir  string
	imageDir  string
	stems     []string
	processor *preprocessing.ImageProcessor
	augmenter *augmenter
	cache     *preprocessing.Cache
}

var _ training.Dataset = (*VOC)(nil)

// NewVOCSegmentation creates a dataset of [3,S,S] images and [S,S] int32
// class maps.
func NewVOCSegmentation(labelDir, imageDir string, opts Options) (*VOC, error) {
	return newVOC(training.ModeSegmentation, labelDir, imageDir, opts)
}

// NewVOCClassification creates a dataset of [3,S,S] images and [20] float32
// multi-hot labels of the classes present in each mask.
func NewVOCClassification(labelDir, imageDir string, opts Options) (*VOC, error) {
	return newVOC(training.ModeClassification, labelDir, imageDir, opts)
}

func newVOC(mode, labelDir, imageDir string, opts Options) (*VOC, error) {
	aug, err := newAugmenter(mode, opts)
	if err != nil {
		return nil, err
	}

	masks, err := filepath.Glob(filepath.Join(labelDir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list masks: %w", err)
	}
	if len(masks) == 0 {
		return nil, fmt.Errorf("no masks found in %s", labelDir)
	}

	d := &VOC{
		labelDir:  labelDir,
		imageDir:  imageDir,
		processor: preprocessing.NewImageProcessor(opts.ImageSize),
		augmenter: aug,
		cache:     opts.Cache,
	}
	for _, mask := range masks {
		stem := strings.TrimSuffix(filepath.Base(mask), ".png")
		if _, err := os.Stat(d.imagePath(stem)); err != nil {
			return nil, fmt.Errorf("image for mask %s: %w", mask, err)
		}
		d.stems = append(d.stems, stem)
	}
	return d, nil
}

func (d *VOC) imagePath(stem string) string {
	return filepath.Join(d.imageDir, stem+".jpg")
}

func (d *VOC) maskPath(stem string) string {
	return filepath.Join(d.labelDir, stem+".png")
}

// Len returns the number of items in the dataset
func (d *VOC) Len() int {
	return len(d.stems)
}

// Mode returns the task mode the labels are prepared for.
func (d *VOC) Mode() string {
	return d.augmenter.mode
}

// Stem returns the file stem of sample idx.
func (d *VOC) Stem(idx int) string {
	return d.stems[idx]
}

// Get decodes sample idx, reusing cached pixels when available.
func (d *VOC) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.stems) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.stems))
	}
	entry, err := d.load(d.stems[idx])
	if err != nil {
		return nil, nil, err
	}
	return d.augmenter.sample(entry.Image, entry.Mask)
}

func (d *VOC) load(stem string) (preprocessing.Entry, error) {
	key := d.maskPath(stem)
	if d.cache != nil {
		if entry, ok := d.cache.Get(key); ok {
			return entry, nil
		}
	}

	img, err := preprocessing.LoadImage(d.imagePath(stem))
	if err != nil {
		return preprocessing.Entry{}, err
	}
	processed, err := d.processor.Preprocess(img)
	if err != nil {
		return preprocessing.Entry{}, fmt.Errorf("%s: %w", stem, err)
	}
	maskImg, err := preprocessing.LoadImage(key)
	if err != nil {
		return preprocessing.Entry{}, err
	}
	mask, err := d.processor.ResizeMask(maskImg, SegmentationClasses)
	if err != nil {
		return preprocessing.Entry{}, fmt.Errorf("%s: %w", key, err)
	}

	entry := preprocessing.Entry{Image: processed.Data, Mask: mask}
	if d.cache != nil {
		d.cache.Put(key, entry)
	}
	return entry, nil
}

// String returns a string representation of the dataset
func (d *VOC) String() string {
	return fmt.Sprintf("VOC %s dataset: %d samples, %dpx, masks in %s",
		d.augmenter.mode, len(d.stems), d.processor.TargetSize(), d.labelDir)
}
