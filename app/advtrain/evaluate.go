package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pascalrobust/advtrain/config"
	"github.com/pascalrobust/advtrain/experiment"
)

func newEvaluateCmd(stdout io.Writer, configPath *string, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <checkpoint>",
		Short: "Score a checkpoint on the validation split, clean and under FGSM",
		Long: `evaluate rebuilds the model stored in a checkpoint and scores it on the
validation split of the configured dataset. Pass the same --mode, --dataset
and --image-size the checkpoint was trained with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			effective, err := resolveConfig(cmd.Flags(), *configPath, cfg)
			if err != nil {
				return err
			}
			logger, err := newLogger(effective.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			eval, err := experiment.Evaluate(effective, args[0], logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Epoch %d\n", eval.Epoch)
			fmt.Fprintf(stdout, "plain:       loss %.4f, measure %.4f\n", eval.Plain.Loss, eval.Plain.Metric)
			fmt.Fprintf(stdout, "adversarial: loss %.4f, measure %.4f\n", eval.Adversarial.Loss, eval.Adversarial.Metric)
			return nil
		},
	}
}
