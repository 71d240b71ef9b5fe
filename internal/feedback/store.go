// Package feedback stores labeled outcomes of served predictions.
//
// Each record keeps the hybrid score that was served together with the
// confirmed label, so the threshold can be re-optimized later without
// re-running the models. Records are kept in a BoltDB file, one bucket
// for all tenants, keyed by "<tenant>/<prediction id>".
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
	"go.etcd.io/bbolt"
)

const feedbackBucket = "feedback"

// Common errors.
var (
	ErrNotFound     = errors.New("feedback not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is a bbolt-backed domain.FeedbackStore.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the feedback database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create feedback dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(feedbackBucket)); err != nil {
			return fmt.Errorf("create feedback bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func makeKey(tenantID, predictionID string) []byte {
	return []byte(tenantID + "/" + predictionID)
}

// Save stores fb, replacing any earlier label for the same prediction.
func (s *Store) Save(ctx context.Context, fb *domain.Feedback) error {
	if fb == nil || fb.TenantID == "" || fb.PredictionID == "" {
		return fmt.Errorf("tenant and prediction id are required: %w", ErrInvalidInput)
	}
	if fb.Label != 0 && fb.Label != 1 {
		return &domain.ValidationError{Fields: []string{"label"}, Reason: "label must be 0 or 1"}
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(feedbackBucket)).Put(makeKey(fb.TenantID, fb.PredictionID), data)
	})
}

// Get returns the feedback recorded for a prediction.
func (s *Store) Get(ctx context.Context, tenantID, predictionID string) (*domain.Feedback, error) {
	var fb *domain.Feedback
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(feedbackBucket)).Get(makeKey(tenantID, predictionID))
		if v == nil {
			return ErrNotFound
		}
		fb = &domain.Feedback{}
		return json.Unmarshal(v, fb)
	})
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// List returns every record of a tenant ordered by prediction id.
func (s *Store) List(ctx context.Context, tenantID string) ([]*domain.Feedback, error) {
	var records []*domain.Feedback

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		prefix := []byte(tenantID + "/")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var fb domain.Feedback
			if err := json.Unmarshal(v, &fb); err != nil {
				return fmt.Errorf("decode feedback %s: %w", k, err)
			}
			records = append(records, &fb)
		}
		return nil
	})

	return records, err
}

// Count returns the number of records of a tenant.
func (s *Store) Count(ctx context.Context, tenantID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(feedbackBucket)).Cursor()
		prefix := []byte(tenantID + "/")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Samples splits records into parallel score and label slices for the
// threshold optimizer. Each score is re-blended from its components with w.
// Records without components (ConfigVersion 0) keep their stored hybrid score.
func Samples(records []*domain.Feedback, w ensemble.Weights) (scores []float64, labels []int) {
	scores = make([]float64, len(records))
	labels = make([]int, len(records))
	for i, fb := range records {
		scores[i] = fb.HybridScore
		if fb.ConfigVersion > 0 {
			scores[i] = ensemble.Combine(fb.AnomalyNormalized, fb.ClassifierProbability, w)
		}
		labels[i] = fb.Label
	}
	return scores, labels
}
