package training

import "testing"

func TestNewTask(t *testing.T) {
	bce := NewBCEWithLogitsLoss("mean")
	seg, err := NewTask("segmentation", bce, 21)
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	if ct, ok := seg.(ConfusionTask); !ok || ct.NumClasses() != 21 {
		t.Error("segmentation task should track a 21-class confusion matrix")
	}

	cls, err := NewTask("classification", bce, 20)
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	if _, ok := cls.(ConfusionTask); ok {
		t.Error("classification task should not track a confusion matrix")
	}
	if cls.Name() != ModeClassification || seg.Name() != ModeSegmentation {
		t.Error("unexpected task names")
	}

	if _, err := NewTask("detection", bce, 20); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := NewTask("segmentation", nil, 21); err == nil {
		t.Error("expected error for nil loss")
	}
}

func TestSegmentationTaskCastsTargets(t *testing.T) {
	task := &SegmentationTask{Criterion: NewCrossEntropyLoss("mean"), Classes: 2}
	output := floatTensor(t, []int{1, 2, 1, 2}, []float32{1, 0, 0, 1})
	floatLabels := floatTensor(t, []int{1, 1, 2}, []float32{0, 1})

	loss, err := task.Loss(output, floatLabels)
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	if v, _ := loss.Item(); v <= 0 {
		t.Errorf("loss = %v, want positive", v)
	}
	acc, err := task.Metric(output, floatLabels)
	if err != nil {
		t.Fatalf("Metric failed: %v", err)
	}
	if acc != 1 {
		t.Errorf("accuracy = %v, want 1", acc)
	}
}

func TestClassificationTaskCastsTargets(t *testing.T) {
	task := &ClassificationTask{Criterion: NewBCEWithLogitsLoss("mean"), Threshold: 0.5}
	output := floatTensor(t, []int{1, 3}, []float32{4, -4, 4})
	labels := intTensor(t, []int{1, 3}, []int32{1, 0, 1})

	if _, err := task.Loss(output, labels); err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	acc, err := task.Metric(output, labels)
	if err != nil {
		t.Fatalf("Metric failed: %v", err)
	}
	if acc != 1 {
		t.Errorf("accuracy = %v, want 1", acc)
	}
}
