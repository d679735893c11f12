package results

import (
	"time"

	"netem-bench/internal/dataset"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/sirupsen/logrus"
)

// Summary condenses the latency distribution of one run for the log.
type Summary struct {
	Requests int
	Timeouts int
	MeanMs   float64
	P50Ms    float64
	P90Ms    float64
	P99Ms    float64
	MaxMs    float64
}

// Summarize aggregates the client latency observations. Observations at or
// above the request timeout count as timeouts; they still enter the
// histogram so the tail percentiles reflect them.
func Summarize(observations []dataset.LatencyObservation, timeout time.Duration) Summary {
	// latencies from 1µs up to 60s with 3 significant figures
	hist := hdrhistogram.New(1, 60_000_000, 3)

	summary := Summary{Requests: len(observations)}
	var sum float64
	for _, obs := range observations {
		if obs.LatencySeconds >= timeout.Seconds() {
			summary.Timeouts++
		}
		sum += obs.LatencySeconds

		us := int64(obs.LatencySeconds * 1e6)
		if us < hist.LowestTrackableValue() {
			us = hist.LowestTrackableValue()
		}
		if us > hist.HighestTrackableValue() {
			us = hist.HighestTrackableValue()
		}
		hist.RecordValue(us)
	}

	if summary.Requests > 0 {
		summary.MeanMs = sum / float64(summary.Requests) * 1000
		summary.P50Ms = float64(hist.ValueAtQuantile(50)) / 1000
		summary.P90Ms = float64(hist.ValueAtQuantile(90)) / 1000
		summary.P99Ms = float64(hist.ValueAtQuantile(99)) / 1000
		summary.MaxMs = float64(hist.Max()) / 1000
	}
	return summary
}

// Fields formats the summary for structured logging.
func (s Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"requests": s.Requests,
		"timeouts": s.Timeouts,
		"mean_ms":  s.MeanMs,
		"p50_ms":   s.P50Ms,
		"p90_ms":   s.P90Ms,
		"p99_ms":   s.P99Ms,
		"max_ms":   s.MaxMs,
	}
}
