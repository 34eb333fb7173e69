// Package filter translates a high-level predicate object into a Vector
// Store predicate tree plus a geographic pre-filter bounding box.
package filter

import (
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/geo"
	"github.com/forensics/semsearch/internal/model"
	"github.com/forensics/semsearch/internal/vstore"
)

// Request is the high-level predicate object accepted by the Filter
// Compiler and the Search Engine. Zero-value fields are
// simply absent; unknown fields from an untyped source are ignored by
// construction since this is a typed struct.
type Request struct {
	TimestampStart *int64 // unix seconds, inclusive
	TimestampEnd   *int64

	Direction    string // "incoming" | "outgoing"; empty = unset
	ExcludeNoise bool
	Contact      string
	App          string

	// Type is the target collection's kind. For "chunks" the timestamp
	// range is applied to both chunk endpoints (timestamp_start and
	// timestamp_end) instead of the single "timestamp" attribute.
	Type string

	GPSLat   *float64
	GPSLon   *float64
	RadiusKM float64 // only meaningful when GPSLat/GPSLon are set
}

// HasGeo reports whether the request carries a geographic radius filter.
func (r Request) HasGeo() bool {
	return r.GPSLat != nil && r.GPSLon != nil && r.RadiusKM > 0
}

// Compiled is the Filter Compiler's output: a metadata predicate tree for
// the Vector Store, plus the geo bounding box the Search Engine uses to
// pre-filter before a haversine post-filter.
type Compiled struct {
	Predicate *vstore.Predicate
	GeoBox    *geo.BoundingBox
	Center    geo.Coordinate
	RadiusKM  float64
}

// Compile builds a Compiled filter from a Request. An inverted timestamp
// range is an InvalidPredicate error.
func Compile(req Request) (*Compiled, error) {
	if req.TimestampStart != nil && req.TimestampEnd != nil && *req.TimestampStart > *req.TimestampEnd {
		return nil, errs.Newf(errs.KindInvalidPredicate, "filter.Compile",
			"timestamp_start (%d) > timestamp_end (%d)", *req.TimestampStart, *req.TimestampEnd)
	}

	var children []*vstore.Predicate

	startField, endField := "timestamp", "timestamp"
	if req.Type == "chunks" {
		startField, endField = "timestamp_start", "timestamp_end"
	}
	if req.TimestampStart != nil {
		children = append(children, vstore.GTE(startField, model.NumberValue(float64(*req.TimestampStart))))
	}
	if req.TimestampEnd != nil {
		children = append(children, vstore.LTE(endField, model.NumberValue(float64(*req.TimestampEnd))))
	}
	if req.Direction != "" {
		children = append(children, vstore.Eq("direction", model.StringValue(req.Direction)))
	}
	if req.ExcludeNoise {
		children = append(children, vstore.Eq("is_noise", model.BoolValue(false)))
	}
	if req.Contact != "" {
		children = append(children, vstore.Eq("contact", model.StringValue(req.Contact)))
	}
	if req.App != "" {
		children = append(children, vstore.Eq("app", model.StringValue(req.App)))
	}

	compiled := &Compiled{Predicate: vstore.And(children...)}

	if req.HasGeo() {
		center := geo.Coordinate{Lat: *req.GPSLat, Lon: *req.GPSLon}
		box := geo.BoundingBoxAround(center, req.RadiusKM)
		compiled.GeoBox = &box
		compiled.Center = center
		compiled.RadiusKM = req.RadiusKM

		geoChildren := []*vstore.Predicate{
			vstore.GTE("gps_lat", model.NumberValue(box.MinLat)),
			vstore.LTE("gps_lat", model.NumberValue(box.MaxLat)),
			vstore.GTE("gps_lon", model.NumberValue(box.MinLon)),
			vstore.LTE("gps_lon", model.NumberValue(box.MaxLon)),
		}
		if compiled.Predicate != nil {
			compiled.Predicate = vstore.And(compiled.Predicate, vstore.And(geoChildren...))
		} else {
			compiled.Predicate = vstore.And(geoChildren...)
		}
	}

	return compiled, nil
}
