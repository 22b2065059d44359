// Package db persists training runs, the cleaned training set of each run
// and the prediction history in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"titanic/passenger"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("database closed")

const schema = `
CREATE TABLE IF NOT EXISTS training_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id TEXT NOT NULL UNIQUE,
    model_type VARCHAR(50) NOT NULL,
    source TEXT NOT NULL,
    rows INTEGER NOT NULL,
    dropped INTEGER NOT NULL,
    iterations INTEGER NOT NULL,
    converged BOOLEAN NOT NULL,
    accuracy REAL,
    precision REAL,
    recall REAL,
    log_loss REAL,
    trained_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS passengers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id TEXT NOT NULL,
    pclass INTEGER NOT NULL,
    sex INTEGER NOT NULL,
    age REAL NOT NULL,
    fare REAL NOT NULL,
    survived INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passengers_model ON passengers(model_id);
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id TEXT NOT NULL,
    pclass INTEGER NOT NULL,
    sex VARCHAR(10) NOT NULL,
    age REAL NOT NULL,
    fare REAL NOT NULL,
    probability REAL NOT NULL,
    survived BOOLEAN NOT NULL,
    created_at DATETIME NOT NULL
);
`

// TrainingRun is one row of training_log.
type TrainingRun struct {
	ModelID    string    `json:"model_id"`
	ModelType  string    `json:"model_type"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	Dropped    int       `json:"dropped"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	LogLoss    float64   `json:"log_loss"`
	TrainedAt  time.Time `json:"trained_at"`
}

// PredictionRow is one served prediction.
type PredictionRow struct {
	ModelID     string    `json:"model_id"`
	TicketClass int       `json:"pclass"`
	Sex         string    `json:"sex"`
	Age         float64   `json:"age"`
	Fare        float64   `json:"fare"`
	Probability float64   `json:"probability"`
	Survived    bool      `json:"survived"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps the SQLite handle. It is safe for concurrent use.
type Store struct {
	db     atomic.Pointer[sql.DB]
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("database opened", zap.String("path", path))
	store := &Store{logger: logger}
	store.db.Store(database)
	return store, nil
}

// Close waits for in-flight statements. Operations started afterwards fail
// with ErrClosed.
func (s *Store) Close() error {
	database := s.db.Swap(nil)
	if database == nil {
		return ErrClosed
	}
	return database.Close()
}

// SaveTrainingRun writes the run and the training set it was fitted on in
// one transaction.
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun, set *passenger.TrainingSet) error {
	database := s.db.Load()
	if database == nil {
		return ErrClosed
	}
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO training_log (
            model_id, model_type, source, rows, dropped, iterations, converged,
            accuracy, precision, recall, log_loss, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ModelID, run.ModelType, run.Source, run.Rows, run.Dropped, run.Iterations, run.Converged,
		run.Accuracy, run.Precision, run.Recall, run.LogLoss, run.TrainedAt.UTC())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert training run: %w", err)
	}

	if set.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO passengers (model_id, pclass, sex, age, fare, survived)
            VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, r := range set.Records {
			if _, err := stmt.ExecContext(ctx, run.ModelID, r.TicketClass, int(r.Sex), r.Age, r.Fare, r.Survived); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert passenger: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("training run saved", zap.String("model_id", run.ModelID), zap.Int("rows", set.Len()))
	return nil
}

// LoadTrainingLog returns every run, newest first.
func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingRun, error) {
	database := s.db.Load()
	if database == nil {
		return nil, ErrClosed
	}
	rows, err := database.QueryContext(ctx, `
        SELECT model_id, model_type, source, rows, dropped, iterations, converged,
               accuracy, precision, recall, log_loss, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var run TrainingRun
		var accuracy, precision, recall, logLoss sql.NullFloat64
		if err := rows.Scan(&run.ModelID, &run.ModelType, &run.Source, &run.Rows, &run.Dropped,
			&run.Iterations, &run.Converged, &accuracy, &precision, &recall, &logLoss, &run.TrainedAt); err != nil {
			return nil, err
		}
		run.Accuracy = accuracy.Float64
		run.Precision = precision.Float64
		run.Recall = recall.Float64
		run.LogLoss = logLoss.Float64
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LoadTrainingSet returns the records stored for modelID in insertion order.
func (s *Store) LoadTrainingSet(ctx context.Context, modelID string) (*passenger.TrainingSet, error) {
	database := s.db.Load()
	if database == nil {
		return nil, ErrClosed
	}
	rows, err := database.QueryContext(ctx, `
        SELECT pclass, sex, age, fare, survived
        FROM passengers
        WHERE model_id = ?
        ORDER BY id`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := &passenger.TrainingSet{Records: make([]passenger.Record, 0)}
	for rows.Next() {
		var r passenger.Record
		var sex int
		if err := rows.Scan(&r.TicketClass, &sex, &r.Age, &r.Fare, &r.Survived); err != nil {
			return nil, err
		}
		r.Sex = passenger.Sex(sex)
		set.Records = append(set.Records, r)
	}
	return set, rows.Err()
}

func (s *Store) SavePrediction(ctx context.Context, p PredictionRow) error {
	database := s.db.Load()
	if database == nil {
		return ErrClosed
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := database.ExecContext(ctx, `
        INSERT INTO predictions (model_id, pclass, sex, age, fare, probability, survived, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ModelID, p.TicketClass, p.Sex, p.Age, p.Fare, p.Probability, p.Survived, p.CreatedAt.UTC())
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRow, error) {
	database := s.db.Load()
	if database == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.QueryContext(ctx, `
        SELECT model_id, pclass, sex, age, fare, probability, survived, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]PredictionRow, 0)
	for rows.Next() {
		var p PredictionRow
		if err := rows.Scan(&p.ModelID, &p.TicketClass, &p.Sex, &p.Age, &p.Fare,
			&p.Probability, &p.Survived, &p.CreatedAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}
