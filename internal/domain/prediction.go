package domain

import "time"

// PredictionResult is the per-request decision. Confidence is the distance
// from the decision boundary, max(h, 1-h); it is not a calibrated probability.
type PredictionResult struct {
	Prediction    int     `json:"prediction"`
	Fraud         bool    `json:"fraud"`
	HybridScore   float64 `json:"hybrid_score"`
	Confidence    float64 `json:"confidence"`
	ThresholdUsed float64 `json:"threshold_used"`

	// Component scores
	AnomalyScore          float64 `json:"anomaly_score"`
	AnomalyNormalized     float64 `json:"anomaly_normalized"`
	ClassifierProbability float64 `json:"classifier_probability"`

	ConfigVersion int64 `json:"config_version"`
}

// Prediction is a scored request as persisted and published.
type Prediction struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenantId"`
	RequestID string             `json:"requestId,omitempty"`
	Result    PredictionResult   `json:"result"`
	Features  map[string]float64 `json:"features,omitempty"`
	Cached    bool               `json:"cached,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Feedback is a confirmed label for a previously scored prediction.
//
// The score components are kept so calibration can re-blend them under the
// weights that are live when it runs.
type Feedback struct {
	PredictionID          string    `json:"prediction_id"`
	TenantID              string    `json:"tenant_id"`
	HybridScore           float64   `json:"hybrid_score"`
	AnomalyNormalized     float64   `json:"anomaly_normalized"`
	ClassifierProbability float64   `json:"classifier_probability"`
	ConfigVersion         int64     `json:"config_version"`
	Label                 int       `json:"label"`
	CreatedAt             time.Time `json:"created_at"`
}

// Decision labels used in logs and bus payloads.
const (
	DecisionFraud      = "FRAUD"
	DecisionLegitimate = "LEGIT"
)

// Decision returns the decision label for a result.
func (r PredictionResult) Decision() string {
	if r.Fraud {
		return DecisionFraud
	}
	return DecisionLegitimate
}
