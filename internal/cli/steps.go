package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalis-labs/service_layer/internal/config"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

type stepsOptions struct {
	stepsFile  string
	topicsFile string
}

type stepsOutput struct {
	Steps  []progress.Step     `json:"steps"`
	Topics []topics.Definition `json:"topics"`
}

func newStepsCommand(root *RootOptions) *cobra.Command {
	opts := &stepsOptions{}
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Validate and print the step catalog",
		Long: `Load the step catalog and topic definitions, validate them together and
print them. Without flags the embedded defaults are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(root, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.stepsFile, "steps", "", "steps YAML file (default: embedded)")
	cmd.Flags().StringVar(&opts.topicsFile, "topics", "", "topics YAML file (default: embedded)")
	return cmd
}

func runSteps(root *RootOptions, opts *stepsOptions, cmd *cobra.Command) error {
	journey, err := config.LoadJourney(opts.stepsFile, opts.topicsFile)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid journey", err)
	}

	p := NewPrinter(cmd.OutOrStdout(), root.Format)
	if p.JSON() {
		return p.Encode(stepsOutput{Steps: journey.Catalog.List(), Topics: journey.Topics.List()})
	}

	for _, step := range journey.Catalog.List() {
		p.Printf("%s %s", p.Colorize(fmt.Sprintf("%2d", step.ID), ColorBold), step.Name)
		if step.Topic != "" {
			def, _ := journey.Topics.Get(step.Topic)
			p.Printf("  [%s -> %s, %d fields]", def.Name, def.Table, len(def.Fields))
		}
		p.Printf("\n")
	}
	p.Success("catalog is valid")
	return nil
}
