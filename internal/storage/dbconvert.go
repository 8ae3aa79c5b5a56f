package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"stockd/internal/models"
)

// marshalPermissions serialises a permissions slice to a JSON string.
func marshalPermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("marshal permissions: %w", err)
	}
	return string(b), nil
}

// unmarshalPermissions parses a JSON string into a permissions slice.
func unmarshalPermissions(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(data), &perms); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

// marshalPoints converts a candle series to JSON bytes.
func marshalPoints(points []models.PricePoint) ([]byte, error) {
	if points == nil {
		points = []models.PricePoint{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("marshal points: %w", err)
	}
	return b, nil
}

// unmarshalPoints converts JSON bytes back into a candle series.
func unmarshalPoints(data []byte) ([]models.PricePoint, error) {
	if len(data) == 0 {
		return []models.PricePoint{}, nil
	}
	var points []models.PricePoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("unmarshal points: %w", err)
	}
	if points == nil {
		points = []models.PricePoint{}
	}
	return points, nil
}

// pgtype helpers

func pgTextToString(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func stringToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func pgTimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
