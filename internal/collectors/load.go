package collectors

import (
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"netem-bench/internal/dataset"
	"netem-bench/internal/logging"
)

const lowercase = "abcdefghijklmnopqrstuvwxyz"

// LoadCollector issues back-to-back synthetic requests against one endpoint
// and records a latency observation per request. Requests are strictly
// sequential: throughput is bounded by round-trip time, which is the
// intended steady-load strategy for an already loaded system under test.
type LoadCollector struct {
	targetURL     string
	messageLength int
	timeout       time.Duration
	client        *http.Client
	life          *lifecycle

	data []dataset.LatencyObservation
}

func NewLoadCollector(targetURL string, messageLength int, timeout time.Duration) *LoadCollector {
	return &LoadCollector{
		targetURL:     targetURL,
		messageLength: messageLength,
		timeout:       timeout,
		client:        &http.Client{Timeout: timeout},
		life:          newLifecycle(),
	}
}

func (c *LoadCollector) Start() error {
	if err := c.life.begin(); err != nil {
		return err
	}
	go c.run()
	return nil
}

// Stop signals the worker and returns all collected observations. The stop
// flag is observed at iteration boundaries only, so an in-flight request is
// allowed to finish; the overrun is bounded by the request timeout.
func (c *LoadCollector) Stop() ([]dataset.LatencyObservation, error) {
	if err := c.life.requestStop(); err != nil {
		return nil, err
	}
	c.life.wait()
	logging.GetCollectorLogger().Info("Client load collection ended")
	return c.data, nil
}

func (c *LoadCollector) run() {
	defer c.life.finish()
	logging.GetCollectorLogger().Info("Client load collection started")

	var requestID int64
	for {
		select {
		case <-c.life.stopping():
			return
		default:
		}

		msg := randomMessage(c.messageLength)
		start := time.Now()
		latency := c.issue(msg)

		c.data = append(c.data, dataset.LatencyObservation{
			ID:             requestID,
			MessageLength:  c.messageLength,
			LatencySeconds: latency,
			StartTime:      float64(start.UnixNano()) / 1e9,
		})
		requestID++
	}
}

// issue sends one form-POST and returns the elapsed seconds until the
// response headers arrived. Timeouts and transport failures return the
// timeout threshold as a sentinel, keeping the load loop alive.
func (c *LoadCollector) issue(msg string) float64 {
	form := url.Values{"message": {msg}}

	start := time.Now()
	resp, err := c.client.PostForm(c.targetURL, form)
	if err != nil {
		logging.GetCollectorLogger().WithError(err).Debug("Request failed, recording timeout sentinel")
		return c.timeout.Seconds()
	}
	elapsed := time.Since(start).Seconds()

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return elapsed
}

func randomMessage(length int) string {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = lowercase[rand.Intn(len(lowercase))]
	}
	return string(buf)
}
