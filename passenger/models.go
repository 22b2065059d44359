// Package passenger holds the static passenger schema shared by the loader,
// the cleaning pipeline and the survival model.
package passenger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sex is the numeric code of the passenger's sex as used by the model.
type Sex int

const (
	Male   Sex = 0
	Female Sex = 1
)

// sexCodes is the complete recoding table. Values outside it are data errors.
var sexCodes = map[string]Sex{
	"male":   Male,
	"female": Female,
}

// ParseSex maps a sex literal to its code. Matching ignores case and
// surrounding whitespace so the dataset's "male" and a form's "Male" agree.
func ParseSex(value string) (Sex, error) {
	code, ok := sexCodes[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return 0, fmt.Errorf("%w: unmapped sex %q", ErrDataError, value)
	}
	return code, nil
}

func (s Sex) String() string {
	if s == Female {
		return "female"
	}
	return "male"
}

// Label is the display name used by the chart datasets.
func (s Sex) Label() string {
	if s == Female {
		return "Female"
	}
	return "Male"
}

// MarshalCSV writes the numeric code, so exported rows match the model input.
func (s Sex) MarshalCSV() (string, error) {
	return strconv.Itoa(int(s)), nil
}

// Ticket classes, 1 is the highest tier.
const (
	FirstClass  = 1
	SecondClass = 2
	ThirdClass  = 3
)

// ValidTicketClass reports whether class is one of 1, 2 or 3.
func ValidTicketClass(class int) bool {
	return class >= FirstClass && class <= ThirdClass
}

// ClassLabel is the display name of a ticket class.
func ClassLabel(class int) string {
	switch class {
	case FirstClass:
		return "1st Class"
	case SecondClass:
		return "2nd Class"
	case ThirdClass:
		return "3rd Class"
	default:
		return fmt.Sprintf("Class %d", class)
	}
}

// FeatureNames is the model's column order. Training matrices and query
// vectors are both built in this order.
var FeatureNames = []string{"pclass", "sex", "age", "fare"}

// RawRecord is a decoded dataset row before cleaning. Age and Fare are nil
// when the source cell is missing.
type RawRecord struct {
	Line        int      `json:"line"`
	TicketClass int      `json:"pclass"`
	Sex         string   `json:"sex"`
	Age         *float64 `json:"age"`
	Fare        *float64 `json:"fare"`
	Survived    int      `json:"survived"`
}

// Record is a cleaned passenger with every predictor present.
type Record struct {
	TicketClass int     `json:"pclass" csv:"pclass"`
	Sex         Sex     `json:"sex" csv:"sex"`
	Age         float64 `json:"age" csv:"age"`
	Fare        float64 `json:"fare" csv:"fare"`
	Survived    int     `json:"survived" csv:"survived"`
}

// FeatureVector returns the record's predictors in FeatureNames order.
func (r Record) FeatureVector() []float64 {
	return []float64{float64(r.TicketClass), float64(r.Sex), r.Age, r.Fare}
}

// TrainingSet is the ordered collection of cleaned records a model is fitted on.
type TrainingSet struct {
	Records []Record `json:"records"`
}

func (ts *TrainingSet) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Records)
}

// Matrix returns the design matrix and the outcome labels, row for row.
func (ts *TrainingSet) Matrix() ([][]float64, []int) {
	features := make([][]float64, 0, ts.Len())
	labels := make([]int, 0, ts.Len())
	if ts == nil {
		return features, labels
	}
	for _, record := range ts.Records {
		features = append(features, record.FeatureVector())
		labels = append(labels, record.Survived)
	}
	return features, labels
}

// Survivors counts the records labelled as survived.
func (ts *TrainingSet) Survivors() int {
	count := 0
	if ts == nil {
		return count
	}
	for _, record := range ts.Records {
		if record.Survived == 1 {
			count++
		}
	}
	return count
}

// Input bounds of a prediction query, matching the original form controls.
const (
	MinAge  = 0.0
	MaxAge  = 100.0
	MinFare = 0.0
	MaxFare = 500.0
)

// Query is a single passenger supplied at request time, without an outcome.
type Query struct {
	TicketClass int     `json:"pclass"`
	Sex         string  `json:"sex"`
	Age         float64 `json:"age"`
	Fare        float64 `json:"fare"`
}

// DefaultQuery mirrors the initial state of the form controls.
func DefaultQuery() Query {
	return Query{
		TicketClass: FirstClass,
		Sex:         Male.String(),
		Age:         25,
		Fare:        50,
	}
}

// Normalize validates the query and returns it with the sex literal in its
// canonical lower-case form, suitable as a cache key.
func (q Query) Normalize() (Query, error) {
	if !ValidTicketClass(q.TicketClass) {
		return Query{}, fmt.Errorf("%w: ticket class %d not in {1,2,3}", ErrInvalidQuery, q.TicketClass)
	}
	sex, err := ParseSex(q.Sex)
	if err != nil {
		return Query{}, err
	}
	if math.IsNaN(q.Age) || q.Age < MinAge || q.Age > MaxAge {
		return Query{}, fmt.Errorf("%w: age %v outside [%v, %v]", ErrInvalidQuery, q.Age, MinAge, MaxAge)
	}
	if math.IsNaN(q.Fare) || q.Fare < MinFare || q.Fare > MaxFare {
		return Query{}, fmt.Errorf("%w: fare %v outside [%v, %v]", ErrInvalidQuery, q.Fare, MinFare, MaxFare)
	}
	q.Sex = sex.String()
	return q, nil
}

// FeatureVector validates the query and returns it in FeatureNames order.
func (q Query) FeatureVector() ([]float64, error) {
	normalized, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	sex, _ := ParseSex(normalized.Sex)
	return Record{
		TicketClass: normalized.TicketClass,
		Sex:         sex,
		Age:         normalized.Age,
		Fare:        normalized.Fare,
	}.FeatureVector(), nil
}
