package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli/v2"
)

// labeledSample is one CSV row: the feature object sent to the server and
// the ground-truth label.
type labeledSample struct {
	Features map[string]any
	Fraud    bool
}

type batchRequest struct {
	Samples []map[string]any `json:"samples"`
}

type scoredSample struct {
	Prediction  int     `json:"prediction"`
	HybridScore float64 `json:"hybrid_score"`
}

type batchResponse struct {
	Predictions  []scoredSample `json:"predictions"`
	TotalSamples int            `json:"total_samples"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// benchMetrics tracks benchmark results.
type benchMetrics struct {
	TruePositives  int64 // Fraud predicted as fraud
	FalsePositives int64 // Legitimate predicted as fraud
	TrueNegatives  int64 // Legitimate predicted as legitimate
	FalseNegatives int64 // Fraud predicted as legitimate (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
	Batches          int64
}

func benchmarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "benchmark",
		Usage: "Score a labeled CSV against a running server and report detection metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "csv",
				Usage:    "Labeled transactions (feature columns plus Class/label)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://localhost:8080",
				Usage:   "Fraudlens base URL",
				EnvVars: []string{"FRAUDLENS_URL"},
			},
			&cli.StringFlag{
				Name:  "tenant",
				Value: "benchmark-test",
				Usage: "Tenant ID for requests",
			},
			&cli.IntFlag{
				Name:  "batch",
				Value: 100,
				Usage: "Samples per /predict_batch request",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 10000,
				Usage: "Maximum transactions to process (0 = all)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: 4,
				Usage: "Number of concurrent requests",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Per-request timeout",
			},
		},
		Action: runBenchmark,
	}
}

func runBenchmark(c *cli.Context) error {
	batchSize := c.Int("batch")
	if batchSize <= 0 {
		return fmt.Errorf("batch must be positive, got %d", batchSize)
	}
	workers := c.Int("workers")
	if workers <= 0 {
		workers = 1
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(c.String("url"), "/")).
		SetTimeout(c.Duration("timeout")).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Tenant-ID", c.String("tenant"))

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              FRAUDLENS BENCHMARK - Labeled Dataset            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", c.String("csv"))
	fmt.Printf("Server URL:  %s\n", c.String("url"))
	fmt.Printf("Tenant ID:   %s\n", c.String("tenant"))
	fmt.Printf("Batch Size:  %d\n", batchSize)
	fmt.Printf("Workers:     %d\n", workers)
	fmt.Printf("Limit:       %d\n", c.Int("limit"))
	fmt.Println()

	if err := checkHealth(client); err != nil {
		return fmt.Errorf("server not reachable at %s: %w", c.String("url"), err)
	}
	fmt.Println("✓ Fraudlens is healthy")

	f, err := os.Open(c.String("csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	samples, err := readLabeledCSV(f, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(samples) == 0 {
		return errors.New("no samples in CSV")
	}

	fraudCount := 0
	for _, s := range samples {
		if s.Fraud {
			fraudCount++
		}
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(samples))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(samples)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(samples)-fraudCount, 100*float64(len(samples)-fraudCount)/float64(len(samples)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", workers)
	start := time.Now()
	m := scoreBatches(client, chunk(samples, batchSize), workers)
	printResults(m, time.Since(start))
	return nil
}

func checkHealth(client *resty.Client) error {
	resp, err := client.R().Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode())
	}
	return nil
}

// readLabeledCSV reads rows whose label column is Class, label or is_fraud.
// Every other column is sent as a numeric feature. Rows with non-numeric
// cells are skipped.
func readLabeledCSV(r io.Reader, limit int) ([]labeledSample, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	labelCol, ok := firstColumn(columnIndex(header), "class", "label", "is_fraud")
	if !ok {
		return nil, errors.New("missing label column (Class, label or is_fraud)")
	}

	var samples []labeledSample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		label, err := parseLabel(record[labelCol])
		if err != nil {
			continue
		}

		features := make(map[string]any, len(header)-1)
		valid := true
		for i, name := range header {
			if i == labelCol {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				valid = false
				break
			}
			features[strings.TrimSpace(name)] = v
		}
		if !valid {
			continue
		}

		samples = append(samples, labeledSample{Features: features, Fraud: label == 1})
		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	return samples, nil
}

func chunk(samples []labeledSample, size int) [][]labeledSample {
	var out [][]labeledSample
	for size < len(samples) {
		samples, out = samples[size:], append(out, samples[:size])
	}
	return append(out, samples)
}

func scoreBatches(client *resty.Client, batches [][]labeledSample, numWorkers int) *benchMetrics {
	m := &benchMetrics{}

	work := make(chan []labeledSample, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range work {
				start := time.Now()
				result, err := predictBatch(client, batch)
				atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.Batches, 1)
				atomic.AddInt64(&m.TotalProcessed, int64(len(batch)))

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, int64(len(batch)))
					fmt.Printf("ERROR: batch of %d -> %v\n", len(batch), err)
					continue
				}
				m.record(batch, result)
			}
		}()
	}

	for _, b := range batches {
		work <- b
	}
	close(work)
	wg.Wait()

	return m
}

// record folds one scored batch into the confusion matrix.
func (m *benchMetrics) record(batch []labeledSample, result *batchResponse) {
	for i, s := range batch {
		if s.Fraud {
			atomic.AddInt64(&m.TotalFraud, 1)
		} else {
			atomic.AddInt64(&m.TotalNonFraud, 1)
		}

		predicted := result.Predictions[i].Prediction == 1
		switch {
		case predicted && s.Fraud:
			atomic.AddInt64(&m.TruePositives, 1)
		case predicted && !s.Fraud:
			atomic.AddInt64(&m.FalsePositives, 1)
		case !predicted && !s.Fraud:
			atomic.AddInt64(&m.TrueNegatives, 1)
		default:
			atomic.AddInt64(&m.FalseNegatives, 1)
		}
	}
}

func predictBatch(client *resty.Client, batch []labeledSample) (*batchResponse, error) {
	req := batchRequest{Samples: make([]map[string]any, len(batch))}
	for i, s := range batch {
		req.Samples[i] = s.Features
	}

	result := &batchResponse{}
	apiErr := &errorResponse{}
	resp, err := client.R().
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post("/predict_batch")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), apiErr.Error)
	}
	if len(result.Predictions) != len(batch) {
		return nil, fmt.Errorf("expected %d predictions, got %d", len(batch), len(result.Predictions))
	}
	return result, nil
}

func (m *benchMetrics) precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m *benchMetrics) recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *benchMetrics) f1() float64 {
	p, r := m.precision(), m.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func printResults(m *benchMetrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FRAUD       LEGIT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", m.precision())
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", m.recall())
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", m.f1())
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Batches > 0 && m.TotalProcessed > 0 {
		fmt.Printf("   Avg Batch Time:   %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.Batches))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
