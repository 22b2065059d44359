// Package predictor owns the process-wide survival model. The dataset is
// loaded and the model fitted once, on first use; afterwards every caller
// shares the same immutable snapshot.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"titanic/dataset"
	"titanic/db"
	"titanic/ml"
	"titanic/monitoring"
	"titanic/passenger"
	"titanic/pipeline"
)

// ErrModelUnavailable is returned once loading or fitting has failed. The
// failure is remembered for the life of the process.
var ErrModelUnavailable = errors.New("model unavailable")

const (
	VerdictSurvived    = "Yes, you survive!"
	VerdictNotSurvived = "No, you do not."
)

// LoadFunc produces the cleaned dataset the model is fitted on.
type LoadFunc func(ctx context.Context) (*dataset.Result, error)

// DatasetLoader reads src with opts on every call.
func DatasetLoader(src dataset.Source, opts dataset.Options) LoadFunc {
	return func(ctx context.Context) (*dataset.Result, error) {
		return dataset.Load(ctx, src, opts)
	}
}

// Recorder persists training runs and served predictions. db.Store
// satisfies it.
type Recorder interface {
	SaveTrainingRun(ctx context.Context, run db.TrainingRun, set *passenger.TrainingSet) error
	SavePrediction(ctx context.Context, p db.PredictionRow) error
}

type Options struct {
	Solver    ml.SolverConfig
	CacheSize int // 0 disables the prediction cache
	Logger    *zap.Logger
	Recorder  Recorder
	Metrics   *monitoring.MetricsCollector
	// TestRatio is the share of rows held out to score each fit; values
	// outside (0, 1) fall back to 0.2.
	TestRatio float64
	Seed      int64
	// WatchDebounce delays a rebuild after a file event; defaults to 250ms.
	WatchDebounce time.Duration
}

// Snapshot is an immutable fitted model together with the data it came from.
type Snapshot struct {
	ModelID    string                 `json:"model_id"`
	Model      *ml.LogisticModel      `json:"model"`
	Stats      pipeline.SurvivalStats `json:"stats"`
	Source     dataset.Source         `json:"source"`
	Rows       int                    `json:"rows"`
	Dropped    int                    `json:"dropped"`
	Evaluation ml.Evaluation          `json:"evaluation"`
	TrainedAt  time.Time              `json:"trained_at"`
}

// Prediction is the answer to one query.
type Prediction struct {
	Query passenger.Query `json:"query"`
	// Probability is the survival percentage rounded to one decimal.
	Probability    float64 `json:"probability"`
	RawProbability float64 `json:"raw_probability"`
	Survived       bool    `json:"survived"`
	Verdict        string  `json:"verdict"`
	ModelID        string  `json:"model_id"`
	CacheHit       bool    `json:"cache_hit"`
}

type cacheKey struct {
	query   passenger.Query
	modelID string
}

// Service is safe for concurrent use.
type Service struct {
	load    LoadFunc
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.MetricsCollector

	once    sync.Once
	initErr error
	current atomic.Pointer[Snapshot]
	fits    atomic.Int64

	rebuildMu sync.Mutex
	cache     *lru.Cache[cacheKey, Prediction]
}

func New(load LoadFunc, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WatchDebounce <= 0 {
		opts.WatchDebounce = 250 * time.Millisecond
	}
	s := &Service{
		load:    load,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
	if opts.CacheSize > 0 {
		// only fails for a non-positive size
		s.cache, _ = lru.New[cacheKey, Prediction](opts.CacheSize)
	}
	return s
}

// Snapshot returns the current snapshot, loading and fitting on the first
// call. Concurrent first callers wait for the single fit. Cancelling ctx
// does not abort a fit other callers may be waiting on.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.once.Do(func() {
		snap, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			s.initErr = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			s.logger.Error("model initialisation failed", zap.Error(err))
			return
		}
		s.current.Store(snap)
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.current.Load(), nil
}

// Model returns the fitted model of the current snapshot.
func (s *Service) Model(ctx context.Context) (*ml.LogisticModel, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Model, nil
}

// Stats returns the survival-rate datasets of the current snapshot.
func (s *Service) Stats(ctx context.Context) (pipeline.SurvivalStats, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return pipeline.SurvivalStats{}, err
	}
	return snap.Stats, nil
}

// Fits reports how many times a model has been fitted.
func (s *Service) Fits() int64 {
	return s.fits.Load()
}

// Predict validates q and returns the survival probability of that passenger.
// Validation errors wrap passenger.ErrInvalidQuery or passenger.ErrDataError.
func (s *Service) Predict(ctx context.Context, q passenger.Query) (Prediction, error) {
	start := time.Now()
	query, err := q.Normalize()
	if err != nil {
		return Prediction{}, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Prediction{}, err
	}

	key := cacheKey{query: query, modelID: snap.ModelID}
	prediction, hit := s.lookup(key)
	if hit {
		prediction.CacheHit = true
		s.metrics.IncrCounter(monitoring.MetricCacheHits, 1, nil)
	} else {
		vector, err := query.FeatureVector()
		if err != nil {
			return Prediction{}, err
		}
		probability, err := snap.Model.PredictProbability(passenger.FeatureNames, vector)
		if err != nil {
			return Prediction{}, err
		}
		prediction = newPrediction(query, probability, snap.ModelID)
		if s.cache != nil {
			s.cache.Add(key, prediction)
		}
		s.metrics.IncrCounter(monitoring.MetricCacheMisses, 1, nil)
	}

	s.metrics.IncrCounter(monitoring.MetricPredictions, 1, map[string]string{"verdict": prediction.Verdict})
	s.metrics.ObserveDuration(monitoring.MetricPredictionLatency, time.Since(start), nil)
	s.record(ctx, prediction)
	return prediction, nil
}

func (s *Service) lookup(key cacheKey) (Prediction, bool) {
	if s.cache == nil {
		return Prediction{}, false
	}
	return s.cache.Get(key)
}

func newPrediction(query passenger.Query, probability float64, modelID string) Prediction {
	survived := probability > ml.DecisionThreshold
	verdict := VerdictNotSurvived
	if survived {
		verdict = VerdictSurvived
	}
	return Prediction{
		Query:          query,
		Probability:    math.Round(probability*10) / 10,
		RawProbability: probability,
		Survived:       survived,
		Verdict:        verdict,
		ModelID:        modelID,
	}
}

func (s *Service) record(ctx context.Context, p Prediction) {
	if s.opts.Recorder == nil {
		return
	}
	err := s.opts.Recorder.SavePrediction(ctx, db.PredictionRow{
		ModelID:     p.ModelID,
		TicketClass: p.Query.TicketClass,
		Sex:         p.Query.Sex,
		Age:         p.Query.Age,
		Fare:        p.Query.Fare,
		Probability: p.Probability,
		Survived:    p.Survived,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record prediction", zap.Error(err))
	}
}

// Reload loads and fits a fresh snapshot and swaps it in. On failure the
// previous snapshot stays in service. A failed first load cannot be
// reloaded.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	if _, err := s.Snapshot(ctx); err != nil {
		return nil, err
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	snap, err := s.build(ctx)
	if err != nil {
		s.metrics.IncrCounter(monitoring.MetricReloadFailures, 1, nil)
		s.logger.Warn("model reload failed, keeping previous snapshot",
			zap.String("model_id", s.current.Load().ModelID), zap.Error(err))
		return nil, err
	}
	previous := s.current.Swap(snap)
	if s.cache != nil {
		s.cache.Purge()
	}
	s.metrics.IncrCounter(monitoring.MetricReloads, 1, nil)
	s.logger.Info("model reloaded", zap.String("previous", previous.ModelID), zap.String("model_id", snap.ModelID))
	return snap, nil
}

// holdOut scores a model fitted on the training part of a seeded split. The
// served model is still fitted on every row.
func (s *Service) holdOut(features [][]float64, labels []int) (ml.Evaluation, error) {
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, s.opts.TestRatio, s.opts.Seed)
	model, err := ml.FitLogistic(trainX, trainY, passenger.FeatureNames, s.opts.Solver)
	if err != nil {
		return ml.Evaluation{}, fmt.Errorf("hold-out fit: %w", err)
	}
	return ml.Evaluate(model, passenger.FeatureNames, testX, testY)
}

func (s *Service) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	result, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	features, labels := result.TrainingSet.Matrix()
	model, err := ml.FitLogistic(features, labels, passenger.FeatureNames, s.opts.Solver)
	if err != nil {
		return nil, err
	}
	s.fits.Add(1)
	if !model.Converged() {
		s.logger.Warn("solver did not converge, using last iterate", zap.Int("iterations", model.Iterations()))
	}
	evaluation, err := s.holdOut(features, labels)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ModelID:    uuid.NewString(),
		Model:      model,
		Stats:      result.Stats,
		Source:     result.Source,
		Rows:       result.TrainingSet.Len(),
		Dropped:    result.Dropped(),
		Evaluation: evaluation,
		TrainedAt:  time.Now(),
	}

	s.metrics.ObserveDuration(monitoring.MetricFitDuration, time.Since(start), nil)
	s.metrics.SetGauge(monitoring.MetricFitIterations, float64(model.Iterations()), nil)
	s.metrics.SetGauge(monitoring.MetricTrainingRows, float64(snap.Rows), nil)
	s.logger.Info("model fitted",
		zap.String("model_id", snap.ModelID),
		zap.Int("rows", snap.Rows),
		zap.Int("dropped", snap.Dropped),
		zap.Int("iterations", model.Iterations()),
		zap.Bool("converged", model.Converged()),
		zap.Int("test_rows", evaluation.Samples),
		zap.Float64("accuracy", evaluation.Accuracy),
		zap.Duration("elapsed", time.Since(start)),
	)

	if s.opts.Recorder != nil {
		run := db.TrainingRun{
			ModelID:    snap.ModelID,
			ModelType:  ml.ModelTypeLogistic,
			Source:     snap.Source.String(),
			Rows:       snap.Rows,
			Dropped:    snap.Dropped,
			Iterations: model.Iterations(),
			Converged:  model.Converged(),
			Accuracy:   evaluation.Accuracy,
			Precision:  evaluation.Precision,
			Recall:     evaluation.Recall,
			LogLoss:    evaluation.LogLoss,
			TrainedAt:  snap.TrainedAt,
		}
		if err := s.opts.Recorder.SaveTrainingRun(ctx, run, result.TrainingSet); err != nil {
			s.logger.Warn("failed to record training run", zap.Error(err))
		}
	}
	return snap, nil
}
