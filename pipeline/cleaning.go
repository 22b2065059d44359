// Package pipeline turns decoded passenger rows into a training set.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"titanic/passenger"
)

// ErrRowDropped is returned by a rule to discard a row without failing the load.
var ErrRowDropped = errors.New("row dropped")

// Row is the unit a rule works on: the raw input and the record built so far.
type Row struct {
	Raw    passenger.RawRecord
	Record passenger.Record
}

// CleaningRule validates or recodes one row. Returning an error wrapping
// ErrRowDropped discards the row; any other error aborts cleaning.
type CleaningRule interface {
	Apply(*Row) error
	Name() string
}

// QualityIssue records a dropped or rejected row.
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, high
	Message   string    `json:"message"`
	Line      int       `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// CleaningStats counts what the cleaner did across calls.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Dropped        int64            `json:"dropped"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner applies an ordered rule chain to every row.
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewDataCleaner returns a cleaner with the default chain: class and outcome
// validation, sex recoding, missing-value dropping, range checks.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	cleaner.AddRule(NewOutcomeValidationRule())
	cleaner.AddRule(NewSexEncodingRule())
	cleaner.AddRule(NewMissingValueRule())
	cleaner.AddRule(NewRangeValidationRule())

	return cleaner
}

// AddRule appends a rule to the chain.
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean runs the rule chain over rows in order and returns the surviving
// records in input order. The first fatal rule error aborts the whole batch.
func (dc *DataCleaner) Clean(rows []passenger.RawRecord) ([]passenger.Record, []QualityIssue, error) {
	cleaned := make([]passenger.Record, 0, len(rows))
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, raw := range rows {
		dc.stats.TotalProcessed++

		row := &Row{Raw: raw}
		var dropped *QualityIssue
		for _, rule := range dc.rules {
			err := rule.Apply(row)
			if err == nil {
				continue
			}
			dc.stats.Issues[rule.Name()]++
			if !errors.Is(err, ErrRowDropped) {
				issues = append(issues, QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Line:      raw.Line,
					Timestamp: time.Now(),
				})
				dc.recordIssues(issues...)
				return nil, issues, fmt.Errorf("line %d: %w", raw.Line, err)
			}
			dropped = &QualityIssue{
				Type:      rule.Name(),
				Severity:  "low",
				Message:   err.Error(),
				Line:      raw.Line,
				Timestamp: time.Now(),
			}
			break
		}

		if dropped != nil {
			dc.stats.Dropped++
			issues = append(issues, *dropped)
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, row.Record)
	}

	dc.recordIssues(issues...)
	dc.stats.LastClean = time.Now()
	dc.logger.Debug("cleaned rows",
		zap.Int("input", len(rows)),
		zap.Int("kept", len(cleaned)),
		zap.Int("dropped", len(issues)),
	)

	return cleaned, issues, nil
}

func (dc *DataCleaner) recordIssues(issues ...QualityIssue) {
	if len(issues) == 0 {
		return
	}
	dc.issuesLock.Lock()
	dc.issues = append(dc.issues, issues...)
	dc.issuesLock.Unlock()
}

// GetStats returns a copy of the cumulative statistics.
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for name, count := range dc.stats.Issues {
		stats.Issues[name] = count
	}
	return stats
}

// GetIssues returns the most recent issues, at most limit of them.
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ rules ============

// OutcomeValidationRule checks the ticket class and the survival label.
type OutcomeValidationRule struct{}

func NewOutcomeValidationRule() *OutcomeValidationRule {
	return &OutcomeValidationRule{}
}

func (r *OutcomeValidationRule) Name() string {
	return "outcome_validation"
}

func (r *OutcomeValidationRule) Apply(row *Row) error {
	if !passenger.ValidTicketClass(row.Raw.TicketClass) {
		return fmt.Errorf("%w: ticket class %d not in {1,2,3}", passenger.ErrDataError, row.Raw.TicketClass)
	}
	if row.Raw.Survived != 0 && row.Raw.Survived != 1 {
		return fmt.Errorf("%w: survived %d not in {0,1}", passenger.ErrDataError, row.Raw.Survived)
	}
	row.Record.TicketClass = row.Raw.TicketClass
	row.Record.Survived = row.Raw.Survived
	return nil
}

// SexEncodingRule recodes the sex literal with the fixed two-entry table.
// It runs before missing-value dropping so an unmapped literal fails the load
// even on a row that would otherwise be dropped.
type SexEncodingRule struct{}

func NewSexEncodingRule() *SexEncodingRule {
	return &SexEncodingRule{}
}

func (r *SexEncodingRule) Name() string {
	return "sex_encoding"
}

func (r *SexEncodingRule) Apply(row *Row) error {
	code, err := passenger.ParseSex(row.Raw.Sex)
	if err != nil {
		return err
	}
	row.Record.Sex = code
	return nil
}

// MissingValueRule drops rows without an age or a fare.
type MissingValueRule struct{}

func NewMissingValueRule() *MissingValueRule {
	return &MissingValueRule{}
}

func (r *MissingValueRule) Name() string {
	return "missing_value"
}

func (r *MissingValueRule) Apply(row *Row) error {
	if row.Raw.Age == nil {
		return fmt.Errorf("%w: missing age", ErrRowDropped)
	}
	if row.Raw.Fare == nil {
		return fmt.Errorf("%w: missing fare", ErrRowDropped)
	}
	row.Record.Age = *row.Raw.Age
	row.Record.Fare = *row.Raw.Fare
	return nil
}

// RangeValidationRule rejects negative ages and fares.
type RangeValidationRule struct {
	MinAge  float64
	MinFare float64
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{
		MinAge:  passenger.MinAge,
		MinFare: passenger.MinFare,
	}
}

func (r *RangeValidationRule) Name() string {
	return "range_validation"
}

func (r *RangeValidationRule) Apply(row *Row) error {
	if row.Record.Age < r.MinAge {
		return fmt.Errorf("%w: age %.2f below %.2f", passenger.ErrDataError, row.Record.Age, r.MinAge)
	}
	if row.Record.Fare < r.MinFare {
		return fmt.Errorf("%w: fare %.2f below %.2f", passenger.ErrDataError, row.Record.Fare, r.MinFare)
	}
	return nil
}
