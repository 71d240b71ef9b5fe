// Package registry loads the fitted artifacts produced by the training
// pipeline: feature order, scaler, both models and the ensemble config.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"gopkg.in/yaml.v3"
)

// Artifact file names inside the model directory.
const (
	FeaturesFile        = "features_order.json"
	ScalerFile          = "scaler.json"
	IsolationForestFile = "isolation_forest.json"
	XGBoostFile         = "xgboost.json"
	ModelConfigFile     = "model_config.json"
	ModelConfigYAMLFile = "model_config.yaml"
	TrainingMetricsFile = "training_metrics.json"
	ReferenceScoresFile = "reference_scores.json"
)

// Registry owns the loaded models and scaler. It is read-only after Load.
type Registry struct {
	dir          string
	featureNames []string
	scaler       Scaler
	anomaly      ensemble.AnomalyModel
	classifier   ensemble.ClassifierModel
	normalizer   *ensemble.Normalizer
	config       domain.EnsembleConfig
	metrics      map[string]any
	modelNames   []string
	loadedAt     time.Time
}

// modelConfigFile is the persisted ensemble record. Pointers distinguish a
// missing key from a zero value.
type modelConfigFile struct {
	IsoWeight   *float64       `json:"iso_weight" yaml:"iso_weight"`
	XGBWeight   *float64       `json:"xgb_weight" yaml:"xgb_weight"`
	Threshold   *float64       `json:"threshold" yaml:"threshold"`
	F1Score     float64        `json:"f1_score" yaml:"f1_score"`
	Precision   float64        `json:"precision" yaml:"precision"`
	Recall      float64        `json:"recall" yaml:"recall"`
	Metrics     map[string]any `json:"metrics" yaml:"metrics"`
	Version     int64          `json:"version" yaml:"version"`
	IsoScoreMin *float64       `json:"iso_score_min" yaml:"iso_score_min"`
	IsoScoreMax *float64       `json:"iso_score_max" yaml:"iso_score_max"`
}

// Load reads every artifact from cfg.Dir. Missing required artifacts return
// ModelNotLoadedError; malformed ones return ConfigurationError.
func Load(ctx context.Context, cfg domain.ModelsConfig) (*Registry, error) {
	r := &Registry{dir: cfg.Dir}

	steps := []func() error{
		r.loadFeatures,
		r.loadScaler,
		r.loadAnomaly,
		func() error { return r.loadClassifier(cfg) },
		r.loadConfig,
		r.loadTrainingMetrics,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step(); err != nil {
			return nil, err
		}
	}

	r.loadedAt = time.Now().UTC()
	slog.Info("model registry loaded",
		"dir", r.dir,
		"features", len(r.featureNames),
		"models", r.modelNames,
		"normalizer", r.normalizer.Policy(),
		"threshold", r.config.Threshold,
	)
	return r, nil
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name)
}

func (r *Registry) loadFeatures() error {
	var names []string
	if err := readJSON(r.path(FeaturesFile), &names); err != nil {
		return artifactError(FeaturesFile, err)
	}
	if len(names) == 0 {
		return &domain.ConfigurationError{Field: FeaturesFile, Reason: "feature list is empty"}
	}
	r.featureNames = names
	return nil
}

func (r *Registry) loadScaler() error {
	s, err := LoadStandardScaler(r.path(ScalerFile))
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("scaler not found, features pass through unscaled", "path", r.path(ScalerFile))
		r.scaler = IdentityScaler{}
		return nil
	}
	if err != nil {
		return artifactError(ScalerFile, err)
	}
	if len(s.Mean) != len(r.featureNames) {
		return &domain.ConfigurationError{
			Field:  ScalerFile,
			Reason: fmt.Sprintf("scaler has %d features, feature order has %d", len(s.Mean), len(r.featureNames)),
		}
	}
	r.scaler = s
	r.modelNames = append(r.modelNames, "standard_scaler")
	return nil
}

func (r *Registry) loadAnomaly() error {
	f, err := LoadIsolationForest(r.path(IsolationForestFile))
	if err != nil {
		return artifactError(IsolationForestFile, err)
	}
	r.anomaly = f
	r.modelNames = append(r.modelNames, "isolation_forest")
	return nil
}

func (r *Registry) loadClassifier(cfg domain.ModelsConfig) error {
	if cfg.ClassifierURL != "" {
		r.classifier = NewRemoteClassifier(cfg.ClassifierURL, time.Duration(cfg.ClassifierTimeout)*time.Second)
		r.modelNames = append(r.modelNames, "remote_classifier")
		slog.Info("using remote classifier", "url", cfg.ClassifierURL)
		return nil
	}

	m, err := LoadGradientBoosted(r.path(XGBoostFile), r.featureNames)
	if err != nil {
		return artifactError(XGBoostFile, err)
	}
	r.classifier = m
	r.modelNames = append(r.modelNames, "xgboost")
	return nil
}

func (r *Registry) loadConfig() error {
	var file modelConfigFile
	name := ModelConfigFile
	err := readJSON(r.path(ModelConfigFile), &file)
	if errors.Is(err, fs.ErrNotExist) {
		name = ModelConfigYAMLFile
		err = readYAML(r.path(ModelConfigYAMLFile), &file)
	}
	if err != nil {
		return artifactError(name, err)
	}

	cfg, err := file.toEnsembleConfig()
	if err != nil {
		return err
	}
	r.config = cfg

	switch {
	case file.IsoScoreMin != nil && file.IsoScoreMax != nil:
		r.normalizer = ensemble.NewNormalizer(*file.IsoScoreMin, *file.IsoScoreMax)
	default:
		var scores []float64
		err := readJSON(r.path(ReferenceScoresFile), &scores)
		switch {
		case err == nil:
			r.normalizer = ensemble.NormalizerFromScores(scores)
		case errors.Is(err, fs.ErrNotExist):
			r.normalizer = ensemble.NewFixedNormalizer()
		default:
			return artifactError(ReferenceScoresFile, err)
		}
	}
	if r.normalizer.Degenerate() {
		slog.Warn("anomaly normalizer has no usable reference range",
			"policy", r.normalizer.Policy())
	}
	return nil
}

func (f modelConfigFile) toEnsembleConfig() (domain.EnsembleConfig, error) {
	required := []struct {
		field string
		value *float64
	}{
		{"iso_weight", f.IsoWeight},
		{"xgb_weight", f.XGBWeight},
		{"threshold", f.Threshold},
	}
	for _, r := range required {
		if r.value == nil {
			return domain.EnsembleConfig{}, &domain.ConfigurationError{Field: r.field, Reason: "is required"}
		}
	}

	cfg := domain.EnsembleConfig{
		IsoWeight: *f.IsoWeight,
		XGBWeight: *f.XGBWeight,
		Threshold: *f.Threshold,
		F1Score:   f.F1Score,
		Precision: f.Precision,
		Recall:    f.Recall,
		Metrics:   numericMetrics(f.Metrics),
		Version:   f.Version,
		Source:    domain.ConfigSourceTraining,
		CreatedAt: time.Now().UTC(),
	}
	if cfg.Version <= 0 {
		cfg.Version = 1
	}
	if err := cfg.Validate(); err != nil {
		return domain.EnsembleConfig{}, err
	}
	return cfg, nil
}

// numericMetrics keeps the scalar entries of a free-form metrics map.
func numericMetrics(in map[string]any) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out
}

func (r *Registry) loadTrainingMetrics() error {
	var metrics map[string]any
	err := readJSON(r.path(TrainingMetricsFile), &metrics)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return artifactError(TrainingMetricsFile, err)
	}
	r.metrics = metrics
	return nil
}

// Dir returns the model directory.
func (r *Registry) Dir() string { return r.dir }

// FeatureNames returns the vector order the models were trained on.
func (r *Registry) FeatureNames() []string { return append([]string(nil), r.featureNames...) }

// Scaler returns the fitted scaler.
func (r *Registry) Scaler() Scaler { return r.scaler }

// Anomaly returns the anomaly model.
func (r *Registry) Anomaly() ensemble.AnomalyModel { return r.anomaly }

// Classifier returns the fraud classifier.
func (r *Registry) Classifier() ensemble.ClassifierModel { return r.classifier }

// Normalizer returns the anomaly score normalizer.
func (r *Registry) Normalizer() *ensemble.Normalizer { return r.normalizer }

// EnsembleConfig returns the config persisted at training time.
func (r *Registry) EnsembleConfig() domain.EnsembleConfig { return r.config }

// TrainingMetrics returns the training_metrics.json contents, if any.
func (r *Registry) TrainingMetrics() map[string]any { return r.metrics }

// ModelNames lists the loaded components.
func (r *Registry) ModelNames() []string { return append([]string(nil), r.modelNames...) }

// LoadedAt returns when the artifacts were read.
func (r *Registry) LoadedAt() time.Time { return r.loadedAt }

// artifactError maps file errors to ModelNotLoadedError and keeps
// ConfigurationError for malformed content.
func artifactError(name string, err error) error {
	if domain.IsConfiguration(err) {
		return err
	}
	return &domain.ModelNotLoadedError{Component: name, Err: err}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.ConfigurationError{Field: filepath.Base(path), Reason: err.Error()}
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return &domain.ConfigurationError{Field: filepath.Base(path), Reason: err.Error()}
	}
	return nil
}
