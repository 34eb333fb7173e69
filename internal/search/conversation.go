package search

import (
	"context"
	"sort"

	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/model"
	"github.com/forensics/semsearch/internal/vstore"
)

// ConversationEntry is one row in a reconstructed conversation, flagged
// when it is the originally requested target.
type ConversationEntry struct {
	Row      model.Row
	IsTarget bool
}

// ReconstructConversation fetches the target row, scans its collection for
// every row sharing its contact, orders the result by (timestamp, id) with
// an ascending-id fallback when timestamp is null, and returns the
// windowBefore rows preceding the target, the target itself, and the
// windowAfter rows following it.
func (e *Engine) ReconstructConversation(ctx context.Context, collection, messageID string, windowBefore, windowAfter int) ([]ConversationEntry, error) {
	target, err := e.Store.GetByID(ctx, collection, messageID)
	if err != nil {
		return nil, err
	}

	contact, ok := target.Metadata["contact"]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "search.ReconstructConversation", "row %q has no contact attribute", messageID)
	}
	contactStr, _ := contact.String()

	rows, err := e.Store.Scan(ctx, collection, vstore.Eq("contact", contact), 0, vstore.OrderNone)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ti, iok := rows[i].Metadata["timestamp"].Number()
		tj, jok := rows[j].Metadata["timestamp"].Number()
		switch {
		case !iok && !jok:
			return rows[i].ID < rows[j].ID
		case !iok:
			return false
		case !jok:
			return true
		case ti != tj:
			return ti < tj
		default:
			return rows[i].ID < rows[j].ID
		}
	})

	targetIdx := -1
	for i, r := range rows {
		if r.ID == messageID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, errs.Newf(errs.KindNotFound, "search.ReconstructConversation",
			"target %q not found among contact %q rows", messageID, contactStr)
	}

	start := targetIdx - windowBefore
	if start < 0 {
		start = 0
	}
	end := targetIdx + windowAfter + 1
	if end > len(rows) {
		end = len(rows)
	}

	out := make([]ConversationEntry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, ConversationEntry{Row: rows[i], IsTarget: i == targetIdx})
	}
	return out, nil
}
