package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/training"
)

func newInspectCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Print the contents of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := checkpoints.Load(args[0])
			if err != nil {
				return err
			}
			return printCheckpoint(stdout, cp)
		},
	}
}

func printCheckpoint(w io.Writer, cp *checkpoints.Checkpoint) error {
	fmt.Fprintf(w, "Checkpoint: %s %s, created %s\n", cp.Metadata.Framework, cp.Metadata.Version,
		cp.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
	if cp.Metadata.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", cp.Metadata.Description)
	}
	ts := cp.TrainingState
	fmt.Fprintf(w, "Epoch %d, step %d, lr %g, loss %.4f, accuracy %.4f\n",
		ts.Epoch, ts.Step, ts.LearningRate, ts.BestLoss, ts.BestAccuracy)
	if cp.OptimizerState != nil {
		fmt.Fprintf(w, "Optimizer: %s (%d state tensors)\n", cp.OptimizerState.Type, len(cp.OptimizerState.StateData))
	}
	if cp.ModelSpec != nil {
		training.NewModelArchitecturePrinter("Model").PrintArchitecture(w, cp.ModelSpec)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENSOR\tSHAPE\tELEMENTS")
	for _, t := range cp.Weights {
		fmt.Fprintf(tw, "%s\t%v\t%d\n", t.Name, t.Shape, len(t.Data))
	}
	return tw.Flush()
}
