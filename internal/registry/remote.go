package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/ensemble"
)

const remoteComponent = "remote classifier"

var _ ensemble.ContextClassifier = (*RemoteClassifier)(nil)

// RemoteClassifier calls a KServe v1 style model server:
// POST {"instances":[[...]]} returns {"predictions":[p]}.
type RemoteClassifier struct {
	url  string
	rest *resty.Client
}

type inferRequest struct {
	Instances [][]float64 `json:"instances"`
}

type inferResponse struct {
	Predictions []any  `json:"predictions"`
	Error       string `json:"error,omitempty"`
}

// NewRemoteClassifier creates a client for the predict endpoint at url.
func NewRemoteClassifier(url string, timeout time.Duration) *RemoteClassifier {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &RemoteClassifier{url: strings.TrimRight(url, "/"), rest: r}
}

// PredictProba scores one vector.
func (c *RemoteClassifier) PredictProba(x []float64) ([2]float64, error) {
	return c.PredictProbaContext(context.Background(), x)
}

// PredictProbaContext scores one vector with a caller context. Transport
// failures and 5xx replies are reported as ModelNotLoadedError; a cancelled
// ctx is returned as is.
func (c *RemoteClassifier) PredictProbaContext(ctx context.Context, x []float64) ([2]float64, error) {
	resp := &inferResponse{}
	r, err := c.rest.R().
		SetContext(ctx).
		SetBody(inferRequest{Instances: [][]float64{x}}).
		SetResult(resp).
		SetError(resp).
		Post(c.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return [2]float64{}, fmt.Errorf("remote classifier: %w", ctxErr)
		}
		return [2]float64{}, &domain.ModelNotLoadedError{Component: remoteComponent, Err: err}
	}
	if r.StatusCode() >= 500 {
		return [2]float64{}, &domain.ModelNotLoadedError{
			Component: remoteComponent,
			Err:       errors.New(strings.TrimSpace(r.Status() + " " + resp.Error)),
		}
	}
	if r.IsError() {
		return [2]float64{}, fmt.Errorf("remote classifier: %s %s", r.Status(), resp.Error)
	}
	if len(resp.Predictions) != 1 {
		return [2]float64{}, fmt.Errorf("remote classifier: expected 1 prediction, got %d", len(resp.Predictions))
	}

	p, err := fraudProbability(resp.Predictions[0])
	if err != nil {
		return [2]float64{}, fmt.Errorf("remote classifier: %w", err)
	}
	return [2]float64{1 - p, p}, nil
}

// fraudProbability accepts either P(fraud) or a [p0, p1] pair.
func fraudProbability(v any) (float64, error) {
	var p float64
	switch t := v.(type) {
	case float64:
		p = t
	case []any:
		if len(t) != 2 {
			return 0, fmt.Errorf("expected [p0, p1], got %d values", len(t))
		}
		f, ok := t[1].(float64)
		if !ok {
			return 0, fmt.Errorf("non-numeric probability %v", t[1])
		}
		p = f
	default:
		return 0, fmt.Errorf("unsupported prediction %T", v)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("probability %v outside [0, 1]", p)
	}
	return p, nil
}
