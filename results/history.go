// Package results records per-epoch training curves and writes them as the
// four artifacts of a run.
package results

import "github.com/pascalrobust/advtrain/training"

// History holds one entry per epoch for each curve.
type History struct {
	TrainLoss []float64
	TrainAcc  []float64
	ValLoss   []float64
	ValAcc    []float64
}

// Append records the results of one epoch.
func (h *History) Append(train, val training.EpochResult) {
	h.TrainLoss = append(h.TrainLoss, train.Loss)
	h.TrainAcc = append(h.TrainAcc, train.Metric)
	h.ValLoss = append(h.ValLoss, val.Loss)
	h.ValAcc = append(h.ValAcc, val.Metric)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	return len(h.TrainLoss)
}
