package layers

import (
	"fmt"
	"math/rand"
)

// SegmentationSpec is a fully convolutional network that keeps the input
// resolution and emits one logit map per class: [N,3,S,S] -> [N,classes,S,S].
func SegmentationSpec(classes, imageSize int) (*ModelSpec, error) {
	return NewModelBuilder([]int{1, 3, imageSize, imageSize}).
		AddConv2D(16, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddConv2D(16, 3, 1, 1, true, "conv2").
		AddReLU("relu2").
		AddConv2D(classes, 1, 1, 0, true, "head").
		Compile()
}

// ClassificationSpec is a small convolutional classifier emitting one logit
// per class: [N,3,S,S] -> [N,classes].
func ClassificationSpec(classes, imageSize int) (*ModelSpec, error) {
	return NewModelBuilder([]int{1, 3, imageSize, imageSize}).
		AddConv2D(16, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddAvgPool2D(2, "pool1").
		AddConv2D(32, 3, 1, 1, true, "conv2").
		AddReLU("relu2").
		AddGlobalAvgPool("pool2").
		AddDense(classes, true, "fc").
		Compile()
}

// NewSegmentationNet builds SegmentationSpec with weights drawn from rng.
func NewSegmentationNet(classes, imageSize int, rng *rand.Rand) (*Sequential, error) {
	spec, err := SegmentationSpec(classes, imageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to compile segmentation model: %w", err)
	}
	return Build(spec, rng)
}

// NewClassificationNet builds ClassificationSpec with weights drawn from rng.
func NewClassificationNet(classes, imageSize int, rng *rand.Rand) (*Sequential, error) {
	spec, err := ClassificationSpec(classes, imageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification model: %w", err)
	}
	return Build(spec, rng)
}
