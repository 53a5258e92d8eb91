package training

import (
	"math"
	"testing"
)

func TestMultiLabelAccuracy(t *testing.T) {
	target := floatTensor(t, []int{2, 20}, multiHot(2, 20, map[int][]int{0: {1, 5}, 1: {19}}))

	t.Run("all correct", func(t *testing.T) {
		logits := make([]float32, 40)
		for i, v := range target.Data.([]float32) {
			if v == 1 {
				logits[i] = 5
			} else {
				logits[i] = -5
			}
		}
		acc, err := MultiLabelAccuracy(floatTensor(t, []int{2, 20}, logits), target, 0.5)
		if err != nil {
			t.Fatalf("MultiLabelAccuracy failed: %v", err)
		}
		if acc != 1 {
			t.Errorf("accuracy = %v, want 1", acc)
		}
	})

	t.Run("all wrong", func(t *testing.T) {
		logits := make([]float32, 40)
		for i, v := range target.Data.([]float32) {
			if v == 1 {
				logits[i] = -5
			} else {
				logits[i] = 5
			}
		}
		acc, _ := MultiLabelAccuracy(floatTensor(t, []int{2, 20}, logits), target, 0.5)
		if acc != 0 {
			t.Errorf("accuracy = %v, want 0", acc)
		}
	})

	t.Run("partial", func(t *testing.T) {
		// Predicting all negatives matches 37 of 40 entries.
		logits := make([]float32, 40)
		for i := range logits {
			logits[i] = -1
		}
		acc, _ := MultiLabelAccuracy(floatTensor(t, []int{2, 20}, logits), target, 0.5)
		if math.Abs(acc-37.0/40.0) > 1e-9 {
			t.Errorf("accuracy = %v, want %v", acc, 37.0/40.0)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		if _, err := MultiLabelAccuracy(floatTensor(t, []int{1, 20}, make([]float32, 20)), target, 0.5); err == nil {
			t.Error("expected error")
		}
	})
}

func multiHot(batch, classes int, positives map[int][]int) []float32 {
	out := make([]float32, batch*classes)
	for b, cs := range positives {
		for _, c := range cs {
			out[b*classes+c] = 1
		}
	}
	return out
}

func TestPixelAccuracyAndConfusion(t *testing.T) {
	// [1, 2, 2, 2]: channel 0 wins at positions 0 and 3.
	output := floatTensor(t, []int{1, 2, 2, 2}, []float32{
		1, 0, 0, 1,
		0, 1, 1, 0,
	})
	target := intTensor(t, []int{1, 2, 2}, []int32{0, 0, 1, 1})

	acc, err := PixelAccuracy(output, target)
	if err != nil {
		t.Fatalf("PixelAccuracy failed: %v", err)
	}
	if acc != 0.5 {
		t.Errorf("pixel accuracy = %v, want 0.5", acc)
	}

	cm := NewConfusionMatrix(2)
	if err := cm.Update(output, target); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cm.TotalSamples != 4 || cm.GetAccuracy() != 0.5 {
		t.Errorf("total %d accuracy %v", cm.TotalSamples, cm.GetAccuracy())
	}
	// each class: TP 1, FP 1, FN 1
	if iou, ok := cm.ClassIoU(0); !ok || math.Abs(iou-1.0/3) > 1e-9 {
		t.Errorf("IoU(0) = %v, want 1/3", iou)
	}
	if got := cm.MeanIoU(); math.Abs(got-1.0/3) > 1e-9 {
		t.Errorf("mean IoU = %v, want 1/3", got)
	}

	cm.Reset()
	if cm.TotalSamples != 0 || cm.MeanIoU() != 0 {
		t.Error("Reset should clear the matrix")
	}

	if err := NewConfusionMatrix(3).Update(output, target); err == nil {
		t.Error("expected class count error")
	}
}

func TestEpochMeterMean(t *testing.T) {
	for n := 1; n <= 5; n++ {
		var m EpochMeter
		var sum float64
		for i := 1; i <= n; i++ {
			m.Add(float64(i), 1)
			sum += float64(i)
		}
		r := m.Result()
		if r.Batches != n || math.Abs(r.Loss-sum/float64(n)) > 1e-12 || r.Metric != 1 {
			t.Errorf("n=%d: got %+v, want loss %v", n, r, sum/float64(n))
		}
	}

	var empty EpochMeter
	if r := empty.Result(); r != (EpochResult{}) {
		t.Errorf("empty meter = %+v", r)
	}
}
