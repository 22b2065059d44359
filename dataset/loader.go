package dataset

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"titanic/passenger"
	"titanic/pipeline"
)

// Options tune how a source is read.
type Options struct {
	Encoding string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// Result is everything produced by one load.
type Result struct {
	Source      Source                  `json:"source"`
	RawRows     int                     `json:"raw_rows"`
	TrainingSet *passenger.TrainingSet  `json:"-"`
	Stats       pipeline.SurvivalStats  `json:"stats"`
	Cleaning    pipeline.CleaningStats  `json:"cleaning"`
	Issues      []pipeline.QualityIssue `json:"-"`
	LoadedAt    time.Time               `json:"loaded_at"`
}

// Dropped is the number of rows removed by cleaning.
func (r *Result) Dropped() int {
	return r.RawRows - r.TrainingSet.Len()
}

// Load fetches src, computes the descriptive aggregates on every decoded
// row, then cleans and recodes the rows into a training set.
//
// Errors wrap ErrSourceUnavailable, ErrDataError or ErrInsufficientData.
// Nothing is retried.
func Load(ctx context.Context, src Source, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	body, err := open(ctx, src, opts.Client, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader, err := decodeCharset(body, opts.Encoding)
	if err != nil {
		return nil, err
	}
	raw, err := DecodeCSV(reader)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrInsufficientData, src)
	}

	stats, err := pipeline.ComputeSurvivalStats(raw)
	if err != nil {
		return nil, err
	}

	cleaner := pipeline.NewDataCleaner(logger)
	records, issues, err := cleaner.Clean(raw)
	if err != nil {
		return nil, err
	}
	set := &passenger.TrainingSet{Records: records}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: all %d rows dropped during cleaning", ErrInsufficientData, len(raw))
	}
	if survivors := set.Survivors(); survivors == 0 || survivors == set.Len() {
		return nil, fmt.Errorf("%w: only one outcome class among %d rows", ErrInsufficientData, set.Len())
	}

	result := &Result{
		Source:      src,
		RawRows:     len(raw),
		TrainingSet: set,
		Stats:       stats,
		Cleaning:    cleaner.GetStats(),
		Issues:      issues,
		LoadedAt:    time.Now(),
	}
	logger.Info("dataset loaded",
		zap.Stringer("source", src),
		zap.Int("rows", result.RawRows),
		zap.Int("kept", set.Len()),
		zap.Int("dropped", result.Dropped()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
