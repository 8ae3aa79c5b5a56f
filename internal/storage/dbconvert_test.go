package storage

import (
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"stockd/internal/models"
)

func TestMarshalUnmarshalPermissions(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "multiple permissions", input: []string{"read", "write", "admin"}, expected: []string{"read", "write", "admin"}},
		{name: "single permission", input: []string{"read"}, expected: []string{"read"}},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "nil slice", input: nil, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := marshalPermissions(tt.input)
			if err != nil {
				t.Fatalf("marshalPermissions error: %v", err)
			}

			result, err := unmarshalPermissions(data)
			if err != nil {
				t.Fatalf("unmarshalPermissions error: %v", err)
			}

			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestUnmarshalPermissions_EmptyString(t *testing.T) {
	result, err := unmarshalPermissions("")
	if err != nil {
		t.Fatalf("unmarshalPermissions error: %v", err)
	}
	if !reflect.DeepEqual(result, []string{}) {
		t.Errorf("expected empty slice, got %v", result)
	}
}

func TestUnmarshalPermissionsInvalidJSON(t *testing.T) {
	_, err := unmarshalPermissions("not json")
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestMarshalUnmarshalPoints(t *testing.T) {
	base := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input []models.PricePoint
	}{
		{
			name: "with points",
			input: []models.PricePoint{
				{Time: base, Open: 99, High: 102, Low: 98, Close: 100, Volume: 1000},
				{Time: base.AddDate(0, 0, 1), Open: 100, High: 103, Low: 99, Close: 101, Volume: 1100},
			},
		},
		{name: "empty slice", input: []models.PricePoint{}},
		{name: "nil slice", input: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := marshalPoints(tt.input)
			if err != nil {
				t.Fatalf("marshalPoints error: %v", err)
			}

			result, err := unmarshalPoints(data)
			if err != nil {
				t.Fatalf("unmarshalPoints error: %v", err)
			}

			if len(result) != len(tt.input) {
				t.Fatalf("expected %d points, got %d", len(tt.input), len(result))
			}
			for i := range tt.input {
				if result[i].Close != tt.input[i].Close {
					t.Errorf("point %d: expected close %v, got %v", i, tt.input[i].Close, result[i].Close)
				}
				if !result[i].Time.Equal(tt.input[i].Time) {
					t.Errorf("point %d: expected time %v, got %v", i, tt.input[i].Time, result[i].Time)
				}
			}
		})
	}
}

func TestUnmarshalPoints_Empty(t *testing.T) {
	result, err := unmarshalPoints(nil)
	if err != nil {
		t.Fatalf("unmarshalPoints error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty slice, got %v", result)
	}
}

func TestUnmarshalPointsInvalidJSON(t *testing.T) {
	_, err := unmarshalPoints([]byte("not json"))
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestPgTextConversion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "non-empty string", input: "USD", valid: true},
		{name: "empty string maps to null", input: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg := stringToPgText(tt.input)
			if pg.Valid != tt.valid {
				t.Errorf("expected valid=%v, got %v", tt.valid, pg.Valid)
			}
			if got := pgTextToString(pg); got != tt.input {
				t.Errorf("expected %q back, got %q", tt.input, got)
			}
		})
	}
}

func TestPgTextToString_Null(t *testing.T) {
	if got := pgTextToString(pgtype.Text{}); got != "" {
		t.Errorf("expected empty string for null, got %q", got)
	}
}

func TestPgTimestamptzConversion(t *testing.T) {
	moment := time.Date(2026, 2, 10, 21, 0, 0, 0, time.UTC)

	pg := timeToPgTimestamptz(moment)
	if !pg.Valid {
		t.Fatal("expected valid timestamptz")
	}
	if got := pgTimestamptzToTime(pg); !got.Equal(moment) {
		t.Errorf("expected %v back, got %v", moment, got)
	}

	// Zero time maps to null and back
	pg = timeToPgTimestamptz(time.Time{})
	if pg.Valid {
		t.Error("expected zero time to map to null")
	}
	if got := pgTimestamptzToTime(pg); !got.IsZero() {
		t.Errorf("expected zero time for null, got %v", got)
	}
}
