package pipeline

import (
	"sort"
	"strconv"

	"titanic/passenger"
)

// PolicyBeforeCleaning means rates are computed on every decoded row,
// including rows later dropped for missing values.
const PolicyBeforeCleaning = "before_cleaning"

// RateBucket is one bar of a survival-rate chart.
type RateBucket struct {
	Key        string  `json:"key"`
	Label      string  `json:"label"`
	Passengers int     `json:"passengers"`
	Survivors  int     `json:"survivors"`
	Rate       float64 `json:"rate"` // percent
}

// SurvivalStats holds the two descriptive chart datasets.
type SurvivalStats struct {
	Policy  string       `json:"policy"`
	Rows    int          `json:"rows"`
	BySex   []RateBucket `json:"by_sex"`
	ByClass []RateBucket `json:"by_class"`
}

// ComputeSurvivalStats groups rows by sex and by ticket class. Buckets only
// exist for groups present in rows; sex buckets are ordered female, male and
// class buckets ascending. An unmapped sex literal is a data error.
func ComputeSurvivalStats(rows []passenger.RawRecord) (SurvivalStats, error) {
	type tally struct{ total, survived int }
	bySex := make(map[passenger.Sex]*tally)
	byClass := make(map[int]*tally)

	for _, row := range rows {
		sex, err := passenger.ParseSex(row.Sex)
		if err != nil {
			return SurvivalStats{}, err
		}
		if bySex[sex] == nil {
			bySex[sex] = &tally{}
		}
		if byClass[row.TicketClass] == nil {
			byClass[row.TicketClass] = &tally{}
		}
		bySex[sex].total++
		byClass[row.TicketClass].total++
		if row.Survived == 1 {
			bySex[sex].survived++
			byClass[row.TicketClass].survived++
		}
	}

	stats := SurvivalStats{
		Policy:  PolicyBeforeCleaning,
		Rows:    len(rows),
		BySex:   make([]RateBucket, 0, len(bySex)),
		ByClass: make([]RateBucket, 0, len(byClass)),
	}
	for _, sex := range []passenger.Sex{passenger.Female, passenger.Male} {
		t, ok := bySex[sex]
		if !ok {
			continue
		}
		stats.BySex = append(stats.BySex, newBucket(sex.String(), sex.Label(), t.total, t.survived))
	}

	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	for _, class := range classes {
		t := byClass[class]
		stats.ByClass = append(stats.ByClass, newBucket(classKey(class), passenger.ClassLabel(class), t.total, t.survived))
	}
	return stats, nil
}

func newBucket(key, label string, total, survived int) RateBucket {
	bucket := RateBucket{Key: key, Label: label, Passengers: total, Survivors: survived}
	if total > 0 {
		bucket.Rate = float64(survived) / float64(total) * 100
	}
	return bucket
}

func classKey(class int) string {
	return strconv.Itoa(class)
}
