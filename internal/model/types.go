// Package model defines the entity shapes shared by every engine component:
// Message, ContextChunk, ImageRecord, and the metadata value variant the
// Vector Store persists them under.
package model

import (
	"fmt"
	"time"
)

// Direction classifies which side of a conversation originated a message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionUnknown  Direction = "unknown"
)

// Message is a single normalized SMS/email record.
type Message struct {
	ID          string
	Text        string
	Timestamp   *time.Time
	Contact     string
	ContactName string
	Direction   Direction
	App         string
	GPSLat      *float64
	GPSLon      *float64
	IsNoise     bool
	SourceTag   string
}

// ContextChunk is a contiguous, overlapping window of adjacent messages in
// one conversation, indexed as a single document.
type ContextChunk struct {
	ID              string
	Text            string
	TimestampStart  *time.Time
	TimestampEnd    *time.Time
	Contact         string
	ContactName     string
	MemberIDs       []string
	FirstMessageID  string
	MemberCount     int
	IsNoise         bool
}

// ChunkID derives the stable chunk id
// "<contact>:<first_message_id>:<member_count>" from its defining fields.
func ChunkID(contact, firstMessageID string, memberCount int) string {
	return fmt.Sprintf("%s:%s:%d", contact, firstMessageID, memberCount)
}

// ImageRecord is a captioned image from seized media; the caption is the
// indexed document.
type ImageRecord struct {
	ID          string
	Description string
	Filename    string
	Path        string
	Timestamp   *time.Time
	GPSLat      *float64
	GPSLon      *float64
	SourceTag   string
}

// MetadataValue is the tagged scalar variant the Vector Store restricts
// metadata to.
type MetadataValue struct {
	kind byte // 's' string, 'n' number, 'b' bool, 0 = null
	s    string
	n    float64
	b    bool
}

func StringValue(s string) MetadataValue  { return MetadataValue{kind: 's', s: s} }
func NumberValue(n float64) MetadataValue { return MetadataValue{kind: 'n', n: n} }
func BoolValue(b bool) MetadataValue      { return MetadataValue{kind: 'b', b: b} }
func NullValue() MetadataValue            { return MetadataValue{kind: 0} }

func (v MetadataValue) IsNull() bool { return v.kind == 0 }

func (v MetadataValue) String() (string, bool) {
	if v.kind != 's' {
		return "", false
	}
	return v.s, true
}

func (v MetadataValue) Number() (float64, bool) {
	if v.kind != 'n' {
		return 0, false
	}
	return v.n, true
}

func (v MetadataValue) Bool() (bool, bool) {
	if v.kind != 'b' {
		return false, false
	}
	return v.b, true
}

// Raw returns the underlying Go value (string, float64, bool, or nil) for
// JSON encoding and for generic comparisons.
func (v MetadataValue) Raw() any {
	switch v.kind {
	case 's':
		return v.s
	case 'n':
		return v.n
	case 'b':
		return v.b
	default:
		return nil
	}
}

// FromRaw wraps a decoded JSON scalar (string/float64/bool/nil) back into a
// MetadataValue.
func FromRaw(raw any) MetadataValue {
	switch t := raw.(type) {
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case bool:
		return BoolValue(t)
	default:
		return NullValue()
	}
}

// Metadata is the scalar attribute bag attached to every stored row.
type Metadata map[string]MetadataValue

// Row is the persisted (id, document, metadata, vector) tuple the Vector
// Store manages.
type Row struct {
	ID       string
	Document string
	Metadata Metadata
	Vector   []float32
}
