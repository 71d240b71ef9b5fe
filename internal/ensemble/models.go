// Package ensemble blends an unsupervised anomaly score with a supervised
// fraud probability and turns the blend into a thresholded decision.
package ensemble

import "context"

// AnomalyModel scores a scaled feature vector. Lower scores are more
// anomalous, matching isolation forest score_samples.
type AnomalyModel interface {
	Score(x []float64) (float64, error)
}

// ClassifierModel returns [P(legit), P(fraud)] for a scaled feature vector.
type ClassifierModel interface {
	PredictProba(x []float64) ([2]float64, error)
}

// ContextClassifier is a ClassifierModel whose calls can be cancelled, such
// as one backed by a remote model server.
type ContextClassifier interface {
	ClassifierModel
	PredictProbaContext(ctx context.Context, x []float64) ([2]float64, error)
}

// AnomalyFunc adapts a function to AnomalyModel.
type AnomalyFunc func(x []float64) (float64, error)

// Score calls f(x).
func (f AnomalyFunc) Score(x []float64) (float64, error) { return f(x) }

// ClassifierFunc adapts a function to ClassifierModel.
type ClassifierFunc func(x []float64) ([2]float64, error)

// PredictProba calls f(x).
func (f ClassifierFunc) PredictProba(x []float64) ([2]float64, error) { return f(x) }
