package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"github.com/urfave/cli/v2"
)

func calibrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "Optimize the decision threshold over labeled validation scores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "csv",
				Usage:    "CSV with anomaly_normalized,classifier_probability,label or hybrid_score,label columns",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "iso-weight",
				Value: 0.3,
				Usage: "Isolation forest weight",
			},
			&cli.Float64Flag{
				Name:  "xgb-weight",
				Value: 0.7,
				Usage: "XGBoost weight",
			},
			&cli.Float64Flag{
				Name:  "step",
				Value: 0.01,
				Usage: "Threshold grid step",
			},
			&cli.BoolFlag{
				Name:  "observed",
				Usage: "Use the observed scores as candidate thresholds instead of a grid",
			},
			&cli.Float64Flag{
				Name:  "beta",
				Usage: "Maximize F-beta instead of F1",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write model_config.json here (stdout when empty)",
			},
		},
		Action: runCalibrate,
	}
}

func runCalibrate(c *cli.Context) error {
	weights, err := ensemble.NewWeights(c.Float64("iso-weight"), c.Float64("xgb-weight"))
	if err != nil {
		return err
	}

	f, err := os.Open(c.String("csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	scores, labels, err := readScores(f, weights)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.String("csv"), err)
	}

	var opts []ensemble.Option
	switch {
	case c.Bool("observed"):
		opts = append(opts, ensemble.WithObservedCandidates())
	default:
		step := c.Float64("step")
		if err := ensemble.ValidateStep(step); err != nil {
			return fmt.Errorf("invalid --step %v: %w", step, err)
		}
		opts = append(opts, ensemble.WithCandidates(ensemble.Grid(step)))
	}
	if beta := c.Float64("beta"); beta > 0 {
		opts = append(opts, ensemble.WithObjective(ensemble.ObjectiveFBeta(beta)))
	}

	best, err := ensemble.Optimize(scores, labels, opts...)
	if err != nil {
		return err
	}

	positives := 0
	for _, l := range labels {
		positives += l
	}

	cfg := domain.EnsembleConfig{
		IsoWeight: weights.Iso,
		XGBWeight: weights.XGB,
		Threshold: best.Threshold,
		F1Score:   best.F1,
		Precision: best.Precision,
		Recall:    best.Recall,
		Metrics: map[string]float64{
			"samples":              float64(len(scores)),
			"positives":            float64(positives),
			"objective":            best.Objective,
			"candidates_evaluated": float64(best.Evaluated),
		},
		Version:   1,
		Source:    domain.ConfigSourceCalibration,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Calibrated over %d samples (%d fraud): threshold=%.4f f1=%.4f precision=%.4f recall=%.4f\n",
		len(scores), positives, best.Threshold, best.F1, best.Precision, best.Recall)

	out := c.String("out")
	if out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
	return nil
}

// readScores parses labeled validation scores. Rows carrying the two model
// outputs are blended with w; rows carrying hybrid_score are used as is.
func readScores(r io.Reader, w ensemble.Weights) ([]float64, []int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := columnIndex(header)

	labelCol, ok := firstColumn(col, "label", "class", "is_fraud")
	if !ok {
		return nil, nil, errors.New("missing label column")
	}
	hybridCol, hasHybrid := col["hybrid_score"]
	isoCol, hasIso := col["anomaly_normalized"]
	xgbCol, hasXGB := col["classifier_probability"]
	if !hasHybrid && !(hasIso && hasXGB) {
		return nil, nil, errors.New("need hybrid_score or anomaly_normalized and classifier_probability columns")
	}

	var scores []float64
	var labels []int
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		label, err := parseLabel(record[labelCol])
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		var score float64
		if hasHybrid {
			score, err = strconv.ParseFloat(strings.TrimSpace(record[hybridCol]), 64)
		} else {
			var iso, xgb float64
			iso, err = strconv.ParseFloat(strings.TrimSpace(record[isoCol]), 64)
			if err == nil {
				xgb, err = strconv.ParseFloat(strings.TrimSpace(record[xgbCol]), 64)
			}
			score = ensemble.Combine(iso, xgb, w)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		scores = append(scores, score)
		labels = append(labels, label)
	}

	if len(scores) == 0 {
		return nil, nil, errors.New("no samples")
	}
	return scores, labels, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func firstColumn(col map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := col[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseLabel accepts 0/1 in integer or float form ("1", "1.0", "\"1\"").
func parseLabel(s string) (int, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid label %q", s)
	}
	switch v {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, fmt.Errorf("label must be 0 or 1, got %q", s)
}
