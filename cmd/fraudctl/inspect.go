package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/registry"
	"github.com/urfave/cli/v2"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Load a model directory and print its features, ensemble config and normalizer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "models",
				Aliases: []string{"m"},
				Value:   "./models",
				Usage:   "Model artifact directory",
				EnvVars: []string{"FRAUDLENS_MODELS_DIR"},
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format (table, json)",
			},
		},
		Action: runInspect,
	}
}

type inspection struct {
	Dir             string                `json:"dir"`
	Models          []string              `json:"models"`
	Features        []string              `json:"features"`
	Ensemble        domain.EnsembleConfig `json:"ensemble"`
	Normalizer      string                `json:"normalizer"`
	TrainingMetrics map[string]any        `json:"training_metrics,omitempty"`
}

func runInspect(c *cli.Context) error {
	reg, err := registry.Load(c.Context, domain.ModelsConfig{Dir: c.String("models")})
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	out := inspection{
		Dir:             reg.Dir(),
		Models:          reg.ModelNames(),
		Features:        reg.FeatureNames(),
		Ensemble:        reg.EnsembleConfig(),
		Normalizer:      reg.Normalizer().Policy(),
		TrainingMetrics: reg.TrainingMetrics(),
	}

	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "table":
		printInspection(out)
		return nil
	default:
		return fmt.Errorf("unknown format %q", c.String("format"))
	}
}

func printInspection(in inspection) {
	fmt.Printf("Models:     %s\n", in.Dir)
	fmt.Printf("Loaded:     %v\n", in.Models)
	fmt.Printf("Normalizer: %s\n", in.Normalizer)
	fmt.Println()

	fmt.Println("Ensemble")
	fmt.Printf("  iso_weight  %.4f\n", in.Ensemble.IsoWeight)
	fmt.Printf("  xgb_weight  %.4f\n", in.Ensemble.XGBWeight)
	fmt.Printf("  threshold   %.4f\n", in.Ensemble.Threshold)
	fmt.Printf("  f1_score    %.4f\n", in.Ensemble.F1Score)
	fmt.Printf("  precision   %.4f\n", in.Ensemble.Precision)
	fmt.Printf("  recall      %.4f\n", in.Ensemble.Recall)
	fmt.Println()

	fmt.Printf("Features (%d)\n", len(in.Features))
	for i, name := range in.Features {
		fmt.Printf("  %3d  %s\n", i, name)
	}

	if len(in.TrainingMetrics) > 0 {
		fmt.Println()
		fmt.Println("Training metrics")
		keys := make([]string, 0, len(in.TrainingMetrics))
		for k := range in.TrainingMetrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-20s %v\n", k, in.TrainingMetrics[k])
		}
	}
}
