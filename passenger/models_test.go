package passenger

import (
	"errors"
	"testing"
)

func TestParseSex(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Sex
		wantErr bool
	}{
		{name: "male", value: "male", want: Male},
		{name: "female", value: "female", want: Female},
		{name: "form capitalisation", value: "Female", want: Female},
		{name: "padded", value: "  male ", want: Male},
		{name: "unmapped", value: "unknown", wantErr: true},
		{name: "empty", value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSex(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrDataError) {
					t.Fatalf("expected ErrDataError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSex(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestQueryNormalize(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr error
	}{
		{name: "default", query: DefaultQuery()},
		{name: "age lower bound", query: Query{TicketClass: 3, Sex: "Male", Age: 0, Fare: 0}},
		{name: "age upper bound", query: Query{TicketClass: 2, Sex: "Female", Age: 100, Fare: 500}},
		{name: "class out of range", query: Query{TicketClass: 4, Sex: "male", Age: 20, Fare: 10}, wantErr: ErrInvalidQuery},
		{name: "negative age", query: Query{TicketClass: 1, Sex: "male", Age: -1, Fare: 10}, wantErr: ErrInvalidQuery},
		{name: "fare too high", query: Query{TicketClass: 1, Sex: "male", Age: 30, Fare: 501}, wantErr: ErrInvalidQuery},
		{name: "unmapped sex", query: Query{TicketClass: 1, Sex: "other", Age: 30, Fare: 10}, wantErr: ErrDataError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.query.Normalize()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestQueryFeatureVectorOrder(t *testing.T) {
	vector, err := Query{TicketClass: 3, Sex: "Female", Age: 27, Fare: 7.9}.FeatureVector()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{3, 1, 27, 7.9}
	if len(vector) != len(FeatureNames) {
		t.Fatalf("expected %d features, got %d", len(FeatureNames), len(vector))
	}
	for i := range want {
		if vector[i] != want[i] {
			t.Fatalf("feature %s = %v, want %v", FeatureNames[i], vector[i], want[i])
		}
	}
}

func TestTrainingSetMatrix(t *testing.T) {
	set := &TrainingSet{Records: []Record{
		{TicketClass: 1, Sex: Female, Age: 29, Fare: 211.3, Survived: 1},
		{TicketClass: 3, Sex: Male, Age: 22, Fare: 7.25, Survived: 0},
	}}

	features, labels := set.Matrix()
	if len(features) != 2 || len(labels) != 2 {
		t.Fatalf("unexpected matrix size: %d x %d", len(features), len(labels))
	}
	if features[1][0] != 3 || features[1][1] != 0 {
		t.Fatalf("unexpected second row: %v", features[1])
	}
	if set.Survivors() != 1 {
		t.Fatalf("expected 1 survivor, got %d", set.Survivors())
	}
}
