package dataset

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"titanic/passenger"
)

const seabornSample = `survived,pclass,sex,age,sibsp,parch,fare,embarked,class,who,adult_male,deck,embark_town,alive,alone
0,3,male,22.0,1,0,7.25,S,Third,man,True,,Southampton,no,False
1,1,female,38.0,1,0,71.2833,C,First,woman,False,C,Cherbourg,yes,False
1,3,female,26.0,0,0,7.925,S,Third,woman,False,,Southampton,yes,True
0,3,male,,0,0,8.4583,Q,Third,man,True,,Queenstown,no,True
1,2,male,,0,0,13.0,S,Second,man,True,,Southampton,yes,True
`

func TestLoadFromHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(seabornSample))
	}))
	defer server.Close()

	src, err := ParseSource(server.URL + "/titanic.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := Load(context.Background(), src, Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RawRows != 5 || result.TrainingSet.Len() != 3 || result.Dropped() != 2 {
		t.Fatalf("unexpected counts: raw=%d kept=%d dropped=%d", result.RawRows, result.TrainingSet.Len(), result.Dropped())
	}
	first := result.TrainingSet.Records[0]
	if first.TicketClass != 3 || first.Sex != passenger.Male || first.Age != 22 || first.Fare != 7.25 {
		t.Errorf("unexpected first record: %+v", first)
	}

	// aggregates see the two dropped men as well
	if result.Stats.Rows != 5 {
		t.Errorf("expected stats over 5 rows, got %d", result.Stats.Rows)
	}
	for _, bucket := range result.Stats.BySex {
		if bucket.Key == "male" && bucket.Passengers != 3 {
			t.Errorf("expected 3 men in the aggregate, got %d", bucket.Passengers)
		}
	}
	if result.Cleaning.Dropped != 2 || len(result.Issues) != 2 {
		t.Errorf("unexpected cleaning stats: %+v", result.Cleaning)
	}
}

func TestLoadSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	tests := []struct {
		name string
		src  Source
	}{
		{name: "http status", src: Source{Kind: SourceURL, Location: server.URL}},
		{name: "connection refused", src: Source{Kind: SourceURL, Location: "http://127.0.0.1:1/titanic.csv"}},
		{name: "missing file", src: Source{Kind: SourceFile, Location: filepath.Join(t.TempDir(), "none.csv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.src, Options{Timeout: 2 * time.Second})
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("expected ErrSourceUnavailable, got %v", err)
			}
		})
	}
}

func TestLoadDataErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{name: "missing column", csv: "survived,pclass,sex,age\n1,1,female,30\n"},
		{name: "unmapped sex", csv: "survived,pclass,sex,age,fare\n1,1,female,30,10\n0,3,unknown,40,8\n"},
		{name: "bad number", csv: "survived,pclass,sex,age,fare\n1,1,female,thirty,10\n"},
		{name: "empty", csv: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "titanic.csv")
			if err := os.WriteFile(path, []byte(tt.csv), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(context.Background(), Source{Kind: SourceFile, Location: path}, Options{})
			if !errors.Is(err, ErrDataError) {
				t.Fatalf("expected ErrDataError, got %v", err)
			}
		})
	}
}

func TestLoadInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{name: "everything dropped", csv: "survived,pclass,sex,age,fare\n1,1,female,,10\n0,3,male,NaN,8\n"},
		{name: "single class", csv: "survived,pclass,sex,age,fare\n1,1,female,20,10\n1,3,male,30,8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "titanic.csv")
			if err := os.WriteFile(path, []byte(tt.csv), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(context.Background(), Source{Kind: SourceFile, Location: path}, Options{})
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("expected ErrInsufficientData, got %v", err)
			}
		})
	}
}

func TestLoadBuiltin(t *testing.T) {
	src, err := ParseSource(DefaultSource)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := Load(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TrainingSet.Len() == 0 || result.Dropped() == 0 {
		t.Fatalf("expected a cleaned sample with some dropped rows, got kept=%d dropped=%d", result.TrainingSet.Len(), result.Dropped())
	}
	if len(result.Stats.ByClass) != 3 || len(result.Stats.BySex) != 2 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}
}

func TestLoadLatin1(t *testing.T) {
	csv := "survived,pclass,sex,age,fare,name\n1,1,female,38,71.28,Cumings\n0,3,male,22,7.25,Müller\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(csv)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "titanic.csv")
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		t.Fatal(err)
	}

	result, err := Load(context.Background(), Source{Kind: SourceFile, Location: path}, Options{Encoding: "latin1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TrainingSet.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", result.TrainingSet.Len())
	}

	if _, err := Load(context.Background(), Source{Kind: SourceFile, Location: path}, Options{Encoding: "klingon"}); err == nil {
		t.Fatal("expected an error for an unknown encoding")
	}
}

func TestExportCSV(t *testing.T) {
	set := &passenger.TrainingSet{Records: []passenger.Record{
		{TicketClass: 1, Sex: passenger.Female, Age: 29, Fare: 211.3, Survived: 1},
	}}
	var buf bytes.Buffer
	if err := ExportCSV(&buf, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[0] != "pclass,sex,age,fare,survived" {
		t.Fatalf("unexpected export: %q", buf.String())
	}
	if lines[1] != "1,1,29,211.3,1" {
		t.Fatalf("unexpected row: %q", lines[1])
	}
}
