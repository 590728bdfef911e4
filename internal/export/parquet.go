// Package export writes daily records as columnar files for offline analysis.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"readiness/internal/store"
)

// dailyParquetRow is one day in the export. Absent scores are null.
type dailyParquetRow struct {
	Date              string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Recovery          *int32  `parquet:"name=recovery, type=INT32, repetitiontype=OPTIONAL"`
	RecoveryBand      string  `parquet:"name=recovery_band, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sleep             *int32  `parquet:"name=sleep, type=INT32, repetitiontype=OPTIONAL"`
	SleepBand         string  `parquet:"name=sleep_band, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StressAcute       *int32  `parquet:"name=stress_acute, type=INT32, repetitiontype=OPTIONAL"`
	StressChronic     *int32  `parquet:"name=stress_chronic, type=INT32, repetitiontype=OPTIONAL"`
	StressBand        string  `parquet:"name=stress_band, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StressThreshold   float64 `parquet:"name=stress_threshold, type=DOUBLE"`
	StressAlert       bool    `parquet:"name=stress_alert, type=BOOLEAN"`
	CTL               float64 `parquet:"name=ctl, type=DOUBLE"`
	ATL               float64 `parquet:"name=atl, type=DOUBLE"`
	TSB               float64 `parquet:"name=tsb, type=DOUBLE"`
	LoadMethod        string  `parquet:"name=load_method, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	LoadLowConfidence bool    `parquet:"name=load_low_confidence, type=BOOLEAN"`
	RecentStrain      float64 `parquet:"name=recent_strain, type=DOUBLE"`
	IllnessSeverity   string  `parquet:"name=illness_severity, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Components        string  `parquet:"name=components_json, type=BYTE_ARRAY, convertedtype=UTF8"`
	ComputedAtUTC     string  `parquet:"name=computed_at_utc, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toRow(rec store.DailyRecord) (dailyParquetRow, error) {
	components := "{}"
	if len(rec.Components) > 0 {
		b, err := json.Marshal(rec.Components)
		if err != nil {
			return dailyParquetRow{}, fmt.Errorf("encoding components for %s: %w", rec.Date, err)
		}
		components = string(b)
	}

	var computed string
	if !rec.ComputedAt.IsZero() {
		computed = rec.ComputedAt.UTC().Format(time.RFC3339)
	}

	return dailyParquetRow{
		Date:              rec.Date,
		Recovery:          int32Ptr(rec.Recovery),
		RecoveryBand:      rec.RecoveryBand,
		Sleep:             int32Ptr(rec.Sleep),
		SleepBand:         rec.SleepBand,
		StressAcute:       int32Ptr(rec.StressAcute),
		StressChronic:     int32Ptr(rec.StressChronic),
		StressBand:        rec.StressBand,
		StressThreshold:   round2(rec.StressThreshold),
		StressAlert:       rec.StressAlert,
		CTL:               round2(rec.CTL),
		ATL:               round2(rec.ATL),
		TSB:               round2(rec.TSB),
		LoadMethod:        rec.LoadMethod,
		LoadLowConfidence: rec.LoadLowConfidence,
		RecentStrain:      round2(rec.RecentStrain),
		IllnessSeverity:   rec.IllnessSeverity,
		Components:        components,
		ComputedAtUTC:     computed,
	}, nil
}

// MarshalDailyParquet encodes records as a SNAPPY-compressed parquet file.
func MarshalDailyParquet(records []store.DailyRecord) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(dailyParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

// RecordLister reads stored daily records
type RecordLister interface {
	ListDailyRecords(ctx context.Context, from, to string) ([]store.DailyRecord, error)
}

// WriteDaily writes the records in [from, to] to w and returns how many were written.
func WriteDaily(ctx context.Context, db RecordLister, from, to string, w io.Writer) (int, error) {
	for _, d := range []string{from, to} {
		if _, err := time.Parse(store.DateLayout, d); err != nil {
			return 0, fmt.Errorf("invalid date %q: %w", d, err)
		}
	}
	if from > to {
		return 0, fmt.Errorf("from %s is after to %s", from, to)
	}

	records, err := db.ListDailyRecords(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("listing daily records: %w", err)
	}
	data, err := MarshalDailyParquet(records)
	if err != nil {
		return 0, fmt.Errorf("encoding parquet: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	return len(records), nil
}

// WriteDailyFile writes the export to path, creating parent directories.
func WriteDailyFile(ctx context.Context, db RecordLister, from, to, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	n, err := WriteDaily(ctx, db, from, to, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}
