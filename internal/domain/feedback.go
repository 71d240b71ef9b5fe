package domain

import "context"

// FeedbackStore keeps confirmed labels used to recalibrate the threshold.
type FeedbackStore interface {
	Save(ctx context.Context, fb *Feedback) error
	Get(ctx context.Context, tenantID, predictionID string) (*Feedback, error)
	List(ctx context.Context, tenantID string) ([]*Feedback, error)
	Count(ctx context.Context, tenantID string) (int, error)
	Close() error
}
