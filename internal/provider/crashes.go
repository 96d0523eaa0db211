package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
)

type crashFile struct {
	Crashes []models.CrashRecord `json:"crashes"`
}

// CrashDataset serves historical crash records. A dataset that failed to
// load answers every query with an empty result.
type CrashDataset struct {
	crashes []models.CrashRecord
	loadErr error
	logger  *logging.Logger
}

// NewCrashDataset loads crash records from path, or the embedded default
// when path is empty. Load failures are kept and logged on each query.
func NewCrashDataset(path string, logger *logging.Logger) *CrashDataset {
	ds := &CrashDataset{logger: logger}

	raw, err := readDataFile(path, "data/historical_crashes.json")
	if err != nil {
		ds.loadErr = fmt.Errorf("load historical crashes: %w", err)
		return ds
	}

	var f crashFile
	if err := json.Unmarshal(raw, &f); err != nil {
		ds.loadErr = fmt.Errorf("parse historical crashes: %w", err)
		return ds
	}
	ds.crashes = f.Crashes
	return ds
}

// NewCrashDatasetFromRecords builds a dataset from in-memory records
func NewCrashDatasetFromRecords(records []models.CrashRecord, logger *logging.Logger) *CrashDataset {
	return &CrashDataset{crashes: records, logger: logger}
}

// Available reports whether the dataset loaded
func (d *CrashDataset) Available() bool {
	return d.loadErr == nil
}

// Query returns the records matching every non-zero filter field, in file order
func (d *CrashDataset) Query(ctx context.Context, filter models.CrashFilter) []models.CrashRecord {
	if d.loadErr != nil {
		d.logger.WithError(d.loadErr).Warn("historical crash data unavailable, returning empty result")
		return nil
	}

	var out []models.CrashRecord
	for _, c := range d.crashes {
		if filter.ScenarioID != "" && c.ScenarioID != filter.ScenarioID {
			continue
		}
		if filter.CorrelationBracket != "" {
			loss, ok := c.CorrelationBrackets[filter.CorrelationBracket]
			if !ok {
				continue
			}
			if filter.LossBelow != nil && !(loss < *filter.LossBelow) {
				continue
			}
		}
		if filter.Sector != "" {
			if _, ok := c.SectorPerformance[filter.Sector]; !ok {
				continue
			}
		}
		out = append(out, c)
	}

	d.logger.WithFields(map[string]interface{}{
		"scenario": filter.ScenarioID,
		"bracket":  filter.CorrelationBracket,
		"sector":   filter.Sector,
		"matches":  len(out),
	}).Debug("historical crash query")
	return out
}

// RecoveryWinners returns the tokens that led the recovery after a crash
func (d *CrashDataset) RecoveryWinners(ctx context.Context, scenarioID string) []string {
	records := d.Query(ctx, models.CrashFilter{ScenarioID: scenarioID})
	if len(records) == 0 {
		return nil
	}
	return append([]string(nil), records[0].RecoveryWinners...)
}
