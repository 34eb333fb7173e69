package vstore

import (
	"fmt"
	"strings"

	"github.com/forensics/semsearch/internal/model"
)

// Op names the metadata predicate operators the Vector Store supports:
// equality, set membership, numeric range, and logical AND/OR.
type Op string

const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGT  Op = "gt"
	OpGTE Op = "gte"
	OpLT  Op = "lt"
	OpLTE Op = "lte"
	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Predicate is a node in the metadata-filter tree built by the Filter
// Compiler and consumed by Scan/Query.
type Predicate struct {
	Op       Op
	Field    string
	Value    model.MetadataValue
	Values   []model.MetadataValue
	Children []*Predicate
}

func Eq(field string, v model.MetadataValue) *Predicate {
	return &Predicate{Op: OpEq, Field: field, Value: v}
}

func In(field string, vs ...model.MetadataValue) *Predicate {
	return &Predicate{Op: OpIn, Field: field, Values: vs}
}

func GTE(field string, v model.MetadataValue) *Predicate {
	return &Predicate{Op: OpGTE, Field: field, Value: v}
}

func LTE(field string, v model.MetadataValue) *Predicate {
	return &Predicate{Op: OpLTE, Field: field, Value: v}
}

func GT(field string, v model.MetadataValue) *Predicate {
	return &Predicate{Op: OpGT, Field: field, Value: v}
}

func LT(field string, v model.MetadataValue) *Predicate {
	return &Predicate{Op: OpLT, Field: field, Value: v}
}

// And combines predicates with logical AND, dropping nils and flattening a
// single remaining child.
func And(children ...*Predicate) *Predicate {
	return combine(OpAnd, children)
}

// Or combines predicates with logical OR.
func Or(children ...*Predicate) *Predicate {
	return combine(OpOr, children)
}

func combine(op Op, children []*Predicate) *Predicate {
	filtered := make([]*Predicate, 0, len(children))
	for _, c := range children {
		if c != nil {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &Predicate{Op: op, Children: filtered}
}

// Evaluate applies the predicate tree to an in-memory metadata map. Used by
// exact KNN scans and geo post-filtering where candidates are already loaded.
func Evaluate(p *Predicate, md model.Metadata) bool {
	if p == nil {
		return true
	}
	switch p.Op {
	case OpAnd:
		for _, c := range p.Children {
			if !Evaluate(c, md) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if Evaluate(c, md) {
				return true
			}
		}
		return false
	case OpEq:
		val, ok := md[p.Field]
		if !ok {
			return false
		}
		return valuesEqual(val, p.Value)
	case OpIn:
		val, ok := md[p.Field]
		if !ok {
			return false
		}
		for _, v := range p.Values {
			if valuesEqual(val, v) {
				return true
			}
		}
		return false
	case OpGT, OpGTE, OpLT, OpLTE:
		val, ok := md[p.Field]
		if !ok {
			return false
		}
		return compareNumeric(val, p.Value, p.Op)
	default:
		return false
	}
}

func valuesEqual(a, b model.MetadataValue) bool {
	if an, ok := a.Number(); ok {
		if bn, ok := b.Number(); ok {
			return an == bn
		}
	}
	if as, ok := a.String(); ok {
		if bs, ok := b.String(); ok {
			return as == bs
		}
	}
	if ab, ok := a.Bool(); ok {
		if bb, ok := b.Bool(); ok {
			return ab == bb
		}
	}
	return a.IsNull() && b.IsNull()
}

func compareNumeric(a, b model.MetadataValue, op Op) bool {
	an, aok := a.Number()
	bn, bok := b.Number()
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGT:
		return an > bn
	case OpGTE:
		return an >= bn
	case OpLT:
		return an < bn
	case OpLTE:
		return an <= bn
	default:
		return false
	}
}

// buildSQL compiles a predicate tree into a SQL fragment over the rows
// table's JSON metadata column.
func buildSQL(p *Predicate) (string, []any) {
	if p == nil {
		return "", nil
	}

	switch p.Op {
	case OpAnd, OpOr:
		clauses := make([]string, 0, len(p.Children))
		var params []any
		for _, c := range p.Children {
			clause, cp := buildSQL(c)
			if clause == "" {
				continue
			}
			clauses = append(clauses, "("+clause+")")
			params = append(params, cp...)
		}
		joiner := " AND "
		if p.Op == OpOr {
			joiner = " OR "
		}
		return strings.Join(clauses, joiner), params

	case OpEq:
		return fmt.Sprintf("json_extract(metadata, '$.%s') = ?", p.Field), []any{p.Value.Raw()}
	case OpGT:
		return fmt.Sprintf("CAST(json_extract(metadata, '$.%s') AS REAL) > ?", p.Field), []any{p.Value.Raw()}
	case OpGTE:
		return fmt.Sprintf("CAST(json_extract(metadata, '$.%s') AS REAL) >= ?", p.Field), []any{p.Value.Raw()}
	case OpLT:
		return fmt.Sprintf("CAST(json_extract(metadata, '$.%s') AS REAL) < ?", p.Field), []any{p.Value.Raw()}
	case OpLTE:
		return fmt.Sprintf("CAST(json_extract(metadata, '$.%s') AS REAL) <= ?", p.Field), []any{p.Value.Raw()}
	case OpIn:
		placeholders := make([]string, len(p.Values))
		params := make([]any, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = "?"
			params[i] = v.Raw()
		}
		return fmt.Sprintf("json_extract(metadata, '$.%s') IN (%s)", p.Field, strings.Join(placeholders, ",")), params
	default:
		return "", nil
	}
}
