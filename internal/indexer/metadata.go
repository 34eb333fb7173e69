package indexer

import (
	"strings"
	"time"

	"github.com/forensics/semsearch/internal/model"
)

func timestampValue(t *time.Time) model.MetadataValue {
	if t == nil {
		return model.NullValue()
	}
	return model.NumberValue(float64(t.Unix()))
}

func gpsValue(v *float64) model.MetadataValue {
	if v == nil {
		return model.NullValue()
	}
	return model.NumberValue(*v)
}

func messageMetadata(m *model.Message) model.Metadata {
	return model.Metadata{
		"contact":      model.StringValue(m.Contact),
		"contact_name": model.StringValue(m.ContactName),
		"direction":    model.StringValue(string(m.Direction)),
		"app":          model.StringValue(m.App),
		"timestamp":    timestampValue(m.Timestamp),
		"gps_lat":      gpsValue(m.GPSLat),
		"gps_lon":      gpsValue(m.GPSLon),
		"is_noise":     model.BoolValue(m.IsNoise),
		"source_tag":   model.StringValue(m.SourceTag),
	}
}

func chunkMetadata(c *model.ContextChunk) model.Metadata {
	return model.Metadata{
		"contact":          model.StringValue(c.Contact),
		"contact_name":     model.StringValue(c.ContactName),
		"timestamp":        timestampValue(c.TimestampStart), // filter compatibility with messages' "timestamp" field
		"timestamp_start":  timestampValue(c.TimestampStart),
		"timestamp_end":    timestampValue(c.TimestampEnd),
		"first_message_id": model.StringValue(c.FirstMessageID),
		"member_count":     model.NumberValue(float64(c.MemberCount)),
		"member_ids":       model.StringValue(strings.Join(c.MemberIDs, ",")),
		"is_noise":         model.BoolValue(c.IsNoise),
	}
}

func imageMetadata(img *model.ImageRecord) model.Metadata {
	return model.Metadata{
		"filename":   model.StringValue(img.Filename),
		"path":       model.StringValue(img.Path),
		"timestamp":  timestampValue(img.Timestamp),
		"gps_lat":    gpsValue(img.GPSLat),
		"gps_lon":    gpsValue(img.GPSLon),
		"source_tag": model.StringValue(img.SourceTag),
	}
}
