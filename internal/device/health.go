package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"readiness/internal/store"
)

const wallStamp = "2006-01-02T15:04:05"

// HealthExport is the JSON document written by the phone's health export
type HealthExport struct {
	Samples []struct {
		Metric string  `json:"metric"`
		TS     string  `json:"ts"`
		Value  float64 `json:"value"`
		Source string  `json:"source"`
	} `json:"samples"`

	Sleep []struct {
		Start      string  `json:"start"`
		End        string  `json:"end"`
		InBed      float64 `json:"in_bed"`
		Asleep     float64 `json:"asleep"`
		Deep       float64 `json:"deep"`
		REM        float64 `json:"rem"`
		Light      float64 `json:"light"`
		Awake      float64 `json:"awake"`
		WakeEvents int     `json:"wake_events"`
		Source     string  `json:"source"`
	} `json:"sleep"`
}

// HealthSaver persists health store data
type HealthSaver interface {
	SaveSamples(ctx context.Context, samples []store.Sample) error
	SaveSleepSession(ctx context.Context, s *store.SleepSession) error
}

// ImportSummary counts what an import stored
type ImportSummary struct {
	Samples int
	Sleep   int
	Skipped int
}

var knownMetrics = map[store.Metric]bool{
	store.MetricHRV:             true,
	store.MetricRestingHR:       true,
	store.MetricRespiratoryRate: true,
}

// ImportHealth reads a health export and stores its samples and sleep
// sessions. Entries with unknown metrics or bad timestamps are skipped.
func ImportHealth(ctx context.Context, db HealthSaver, r io.Reader) (ImportSummary, error) {
	var doc HealthExport
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportSummary{}, fmt.Errorf("decoding health export: %w", err)
	}

	var summary ImportSummary
	samples := make([]store.Sample, 0, len(doc.Samples))
	for _, s := range doc.Samples {
		metric := store.Metric(s.Metric)
		ts, err := time.Parse(wallStamp, s.TS)
		if !knownMetrics[metric] || err != nil || s.Value <= 0 {
			summary.Skipped++
			continue
		}
		source := s.Source
		if source == "" {
			source = string(store.ProviderDevice)
		}
		samples = append(samples, store.Sample{Metric: metric, Timestamp: ts, Value: s.Value, Source: source})
	}
	if err := db.SaveSamples(ctx, samples); err != nil {
		return summary, fmt.Errorf("saving samples: %w", err)
	}
	summary.Samples = len(samples)

	for _, s := range doc.Sleep {
		start, err1 := time.Parse(wallStamp, s.Start)
		end, err2 := time.Parse(wallStamp, s.End)
		if err1 != nil || err2 != nil || !end.After(start) {
			summary.Skipped++
			continue
		}
		source := s.Source
		if source == "" {
			source = string(store.ProviderDevice)
		}
		session := &store.SleepSession{
			Start:         start,
			End:           end,
			InBedSeconds:  s.InBed,
			AsleepSeconds: s.Asleep,
			DeepSeconds:   s.Deep,
			REMSeconds:    s.REM,
			LightSeconds:  s.Light,
			AwakeSeconds:  s.Awake,
			WakeEvents:    s.WakeEvents,
			Source:        source,
		}
		if err := db.SaveSleepSession(ctx, session); err != nil {
			return summary, fmt.Errorf("saving sleep session: %w", err)
		}
		summary.Sleep++
	}

	return summary, nil
}
