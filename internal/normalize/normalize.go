// Package normalize turns the heterogeneous raw rows emitted by external
// tabular parsers into the uniform Message/ImageRecord shapes the rest of
// the engine consumes.
package normalize

import (
	"context"
	"strconv"
	"time"

	"github.com/forensics/semsearch/internal/model"
)

// SourceKind selects which entity shape a raw row stream normalizes into.
type SourceKind string

const (
	SourceMessages SourceKind = "messages"
	SourceImages   SourceKind = "images"
)

// RawRow is the parser's per-record output: a loosely-typed bag of fields.
// Parsers are an external collaborator; this is the only
// shape the normalizer depends on from them.
type RawRow map[string]any

// Stats accumulates counters for a normalization run; malformed rows are
// skipped and counted, never raised.
type Stats struct {
	Accepted int
	Skipped  int
}

// Record is the normalized output: exactly one of Message or Image is set,
// matching the source kind the stream was normalized for.
type Record struct {
	Message *model.Message
	Image   *model.ImageRecord
}

// Normalize consumes rows from in and emits normalized Records on the
// returned channel, lazily and without panicking on malformed input
//. The channel closes once in is drained or ctx is done.
// stats is updated in place as rows are processed; callers should only read
// it after the returned channel closes.
func Normalize(ctx context.Context, in <-chan RawRow, kind SourceKind, stats *Stats) <-chan Record {
	out := make(chan Record, 16)

	go func() {
		defer close(out)
		for row := range in {
			select {
			case <-ctx.Done():
				return
			default:
			}

			rec, ok := normalizeRow(row, kind)
			if !ok {
				stats.Skipped++
				continue
			}
			stats.Accepted++

			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func normalizeRow(row RawRow, kind SourceKind) (Record, bool) {
	switch kind {
	case SourceMessages:
		return normalizeMessage(row)
	case SourceImages:
		return normalizeImage(row)
	default:
		return Record{}, false
	}
}

func normalizeMessage(row RawRow) (Record, bool) {
	id, ok := stringField(row, "id")
	if !ok || id == "" {
		return Record{}, false
	}
	text, _ := stringField(row, "text")

	msg := &model.Message{
		ID:          id,
		Text:        text,
		Timestamp:   timeField(row, "timestamp"),
		Contact:     firstString(row, "contact"),
		ContactName: firstString(row, "contact_name"),
		Direction:   directionField(row, "direction"),
		App:         firstString(row, "app"),
		GPSLat:      floatField(row, "gps_lat"),
		GPSLon:      floatField(row, "gps_lon"),
		SourceTag:   firstString(row, "source_tag"),
	}
	return Record{Message: msg}, true
}

func normalizeImage(row RawRow) (Record, bool) {
	id, ok := stringField(row, "id")
	if !ok || id == "" {
		return Record{}, false
	}
	filename, ok := stringField(row, "filename")
	if !ok || filename == "" {
		return Record{}, false
	}

	img := &model.ImageRecord{
		ID:          id,
		Description: firstString(row, "description"),
		Filename:    filename,
		Path:        firstString(row, "path"),
		Timestamp:   timeField(row, "timestamp"),
		GPSLat:      floatField(row, "gps_lat"),
		GPSLon:      floatField(row, "gps_lon"),
		SourceTag:   firstString(row, "source_tag"),
	}
	return Record{Image: img}, true
}

func stringField(row RawRow, key string) (string, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func firstString(row RawRow, key string) string {
	s, _ := stringField(row, key)
	return s
}

func floatField(row RawRow, key string) *float64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// timeField accepts ISO-8601 strings or epoch seconds (int/float).
// Unparseable or absent values become null.
func timeField(row RawRow, key string) *time.Time {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return &parsed
		}
		return nil
	case float64:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	case int64:
		ts := time.Unix(t, 0).UTC()
		return &ts
	case int:
		ts := time.Unix(int64(t), 0).UTC()
		return &ts
	default:
		return nil
	}
}

func directionField(row RawRow, key string) model.Direction {
	s, ok := stringField(row, key)
	if !ok {
		return model.DirectionUnknown
	}
	switch model.Direction(s) {
	case model.DirectionIncoming, model.DirectionOutgoing:
		return model.Direction(s)
	default:
		return model.DirectionUnknown
	}
}
