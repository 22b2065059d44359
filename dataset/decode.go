package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"titanic/passenger"
)

// RequiredColumns must all be present in the header. Other columns are ignored.
var RequiredColumns = []string{"pclass", "sex", "age", "fare", "survived"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvRow struct {
	Pclass   string `csv:"pclass"`
	Sex      string `csv:"sex"`
	Age      string `csv:"age"`
	Fare     string `csv:"fare"`
	Survived string `csv:"survived"`
}

// DecodeCSV reads the passenger table. Empty, NA and NaN cells in age and
// fare decode as missing; anything else that does not parse is a data error.
func DecodeCSV(r io.Reader) ([]passenger.RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty csv", passenger.ErrDataError)
		}
		return nil, fmt.Errorf("%w: header: %v", passenger.ErrDataError, err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var rows []*csvRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", passenger.ErrDataError, err)
	}

	records := make([]passenger.RawRecord, 0, len(rows))
	for i, row := range rows {
		record, err := row.toRaw(i + 2)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func checkHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	var missing []string
	for _, name := range RequiredColumns {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", passenger.ErrDataError, strings.Join(missing, ", "))
	}
	return nil
}

func (r *csvRow) toRaw(line int) (passenger.RawRecord, error) {
	class, err := parseInt(r.Pclass)
	if err != nil {
		return passenger.RawRecord{}, fmt.Errorf("%w: line %d: pclass: %v", passenger.ErrDataError, line, err)
	}
	survived, err := parseInt(r.Survived)
	if err != nil {
		return passenger.RawRecord{}, fmt.Errorf("%w: line %d: survived: %v", passenger.ErrDataError, line, err)
	}
	age, err := parseOptionalFloat(r.Age)
	if err != nil {
		return passenger.RawRecord{}, fmt.Errorf("%w: line %d: age: %v", passenger.ErrDataError, line, err)
	}
	fare, err := parseOptionalFloat(r.Fare)
	if err != nil {
		return passenger.RawRecord{}, fmt.Errorf("%w: line %d: fare: %v", passenger.ErrDataError, line, err)
	}
	return passenger.RawRecord{
		Line:        line,
		TicketClass: class,
		Sex:         r.Sex,
		Age:         age,
		Fare:        fare,
		Survived:    survived,
	}, nil
}

// parseInt accepts "3" as well as "3.0".
func parseInt(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, fmt.Errorf("missing value")
	}
	if n, err := strconv.Atoi(cell); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", cell)
	}
	return int(f), nil
}

func parseOptionalFloat(cell string) (*float64, error) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "na", "nan", "null", "none":
		return nil, nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", cell)
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	if math.IsInf(f, 0) {
		return nil, fmt.Errorf("not finite: %q", cell)
	}
	return &f, nil
}

// ExportCSV writes a cleaned training set, sex recoded, in the model's
// column order followed by the outcome.
func ExportCSV(w io.Writer, set *passenger.TrainingSet) error {
	records := set.Records
	if records == nil {
		records = []passenger.Record{}
	}
	return gocsv.Marshal(&records, w)
}
