package checkpoints

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultPolicyOver200Epochs(t *testing.T) {
	policy := DefaultPolicy()

	var saved []int
	for epoch := 0; epoch < 200; epoch++ {
		if policy.ShouldSave(epoch) {
			saved = append(saved, epoch)
		}
	}

	want := []int{24, 49, 74, 99, 124, 149, 174, 199}
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Errorf("saved epochs mismatch (-want +got):\n%s", diff)
	}
}

func TestShortRunSavesNothing(t *testing.T) {
	policy := DefaultPolicy()
	for epoch := 0; epoch < 20; epoch++ {
		if policy.ShouldSave(epoch) {
			t.Fatalf("epoch %d selected in a 20-epoch run", epoch)
		}
	}
}

func TestCustomPolicies(t *testing.T) {
	set := Epochs(3, 1, 2)
	if diff := cmp.Diff([]int{1, 2, 3}, set.Sorted()); diff != "" {
		t.Errorf("Sorted mismatch (-want +got):\n%s", diff)
	}

	even := PolicyFunc(func(epoch int) bool { return epoch%2 == 0 })
	if !even.ShouldSave(4) || even.ShouldSave(5) {
		t.Error("PolicyFunc not applied")
	}

	if Epochs().ShouldSave(0) {
		t.Error("empty set should select nothing")
	}
}

func TestNameTemplate(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		names, err := NewNameTemplate("", "")
		if err != nil {
			t.Fatalf("NewNameTemplate failed: %v", err)
		}
		got, err := names.Name(24, "Test")
		if err != nil {
			t.Fatalf("Name failed: %v", err)
		}
		if got != "./model_24_Test.pth" {
			t.Errorf("Name = %q, expected ./model_24_Test.pth", got)
		}
	})

	t.Run("Directory without slash", func(t *testing.T) {
		names, _ := NewNameTemplate("", "runs/ckpt")
		got, _ := names.Name(199, "exp1")
		if got != "runs/ckpt/model_199_exp1.pth" {
			t.Errorf("Name = %q", got)
		}
	})

	t.Run("Custom pattern", func(t *testing.T) {
		names, _ := NewNameTemplate("{{.Dir}}{{.Exp}}-e{{.Epoch}}.pth.xz", "/tmp/")
		got, _ := names.Name(7, "a")
		if got != "/tmp/a-e7.pth.xz" {
			t.Errorf("Name = %q", got)
		}
	})

	t.Run("Invalid pattern", func(t *testing.T) {
		if _, err := NewNameTemplate("{{.Dir", ""); err == nil {
			t.Error("Expected parse error")
		}
		names, _ := NewNameTemplate("{{.Missing}}", "")
		if _, err := names.Name(1, "x"); err == nil {
			t.Error("Expected error for unknown field")
		}
	})
}
