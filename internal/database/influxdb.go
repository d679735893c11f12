// Package database exports finished runs to InfluxDB for dashboarding. The
// JSON result files remain the source of truth; this export is optional.
package database

import (
	"context"
	"fmt"
	"time"

	"netem-bench/internal/config"
	"netem-bench/internal/dataset"
	"netem-bench/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}
	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// WriteRun exports both sequences of one finished run plus a metadata
// point. The record timestamps, not the export time, become the point
// times, so run series align in dashboards the same way they do in the
// JSON files.
func (idb *InfluxDBClient) WriteRun(experiment, branch string, result *dataset.ExperimentResult, startTime, endTime time.Time) error {
	ctx := context.Background()

	tags := map[string]string{
		"experiment": experiment,
		"branch":     branch,
	}

	var points []*write.Point

	for _, sample := range result.DockerStats {
		pointTags := map[string]string{
			"experiment": experiment,
			"branch":     branch,
			"container":  sample.Container,
		}
		point := influxdb2.NewPoint("docker_stats",
			pointTags,
			map[string]interface{}{
				"total_net_traffic": int64(sample.TotalNetBytes),
				"memory_usage":      sample.MemoryUsage,
				"cpu_usage":         sample.CPUUsage,
			},
			epochToTime(sample.Time))
		points = append(points, point)
	}

	for _, obs := range result.ClientPerf {
		point := influxdb2.NewPoint("client_perf",
			tags,
			map[string]interface{}{
				"request_id": obs.ID,
				"msg_length": obs.MessageLength,
				"latency":    obs.LatencySeconds,
			},
			epochToTime(obs.StartTime))
		points = append(points, point)
	}

	if len(points) > 0 {
		if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write data points: %w", err)
		}
	}

	meta := influxdb2.NewPoint("experiment_meta",
		tags,
		map[string]interface{}{
			"started":       startTime.Format(time.RFC3339),
			"finished":      endTime.Format(time.RFC3339),
			"docker_stats":  len(result.DockerStats),
			"client_perf":   len(result.ClientPerf),
			"duration_secs": int64(endTime.Sub(startTime).Seconds()),
		},
		time.Now())
	if err := idb.writeAPI.WritePoint(ctx, meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"branch": branch,
		"points": len(points),
	}).Info("Run exported to InfluxDB")
	return nil
}

func (idb *InfluxDBClient) Close() {
	idb.client.Close()
}

func epochToTime(epoch float64) time.Time {
	return time.Unix(0, int64(epoch*float64(time.Second)))
}
