// Package chunk groups the messages of one conversation into overlapping
// context windows that preserve surrounding context when a single message
// is indexed.
package chunk

import (
	"sort"
	"strings"

	"github.com/forensics/semsearch/internal/model"
)

// Config tunes the sliding window. Window must be ≥1 and Overlap must
// satisfy 0 ≤ Overlap < Window.
type Config struct {
	Window  int
	Overlap int
}

// Build partitions messages by contact, sorts each partition by
// (timestamp, id), and slides a window of size Window with stride
// Window-Overlap over it, producing one ContextChunk per window.
func Build(messages []*model.Message, cfg Config) []*model.ContextChunk {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Window {
		cfg.Overlap = 0
	}

	byContact := make(map[string][]*model.Message)
	order := make([]string, 0)
	for _, m := range messages {
		if _, ok := byContact[m.Contact]; !ok {
			order = append(order, m.Contact)
		}
		byContact[m.Contact] = append(byContact[m.Contact], m)
	}

	var chunks []*model.ContextChunk
	for _, contact := range order {
		chunks = append(chunks, buildForContact(byContact[contact], cfg)...)
	}
	return chunks
}

func buildForContact(msgs []*model.Message, cfg Config) []*model.ContextChunk {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].Timestamp, msgs[j].Timestamp
		switch {
		case ti == nil && tj == nil:
			return msgs[i].ID < msgs[j].ID
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.Before(*tj)
		default:
			return msgs[i].ID < msgs[j].ID
		}
	})

	stride := cfg.Window - cfg.Overlap
	if stride < 1 {
		stride = 1
	}

	var chunks []*model.ContextChunk
	lastEnd := -1
	for start := 0; start < len(msgs); start += stride {
		end := start + cfg.Window
		if end > len(msgs) {
			end = len(msgs)
		}
		if end <= lastEnd {
			// Every member of this window already appeared in the
			// previous one: no new members, skip.
			if end == len(msgs) {
				break
			}
			continue
		}
		window := msgs[start:end]
		chunks = append(chunks, buildChunk(window))
		lastEnd = end
		if end == len(msgs) {
			break
		}
	}
	return chunks
}

func buildChunk(window []*model.Message) *model.ContextChunk {
	memberIDs := make([]string, len(window))
	texts := make([]string, len(window))
	allNoise := true
	for i, m := range window {
		memberIDs[i] = m.ID
		texts[i] = m.Text
		if !m.IsNoise {
			allNoise = false
		}
	}

	first := window[0]
	last := window[len(window)-1]

	c := &model.ContextChunk{
		Text:           strings.Join(texts, "\n"),
		Contact:        first.Contact,
		ContactName:    first.ContactName,
		MemberIDs:      memberIDs,
		FirstMessageID: first.ID,
		MemberCount:    len(window),
		IsNoise:        allNoise,
		TimestampStart: first.Timestamp,
		TimestampEnd:   last.Timestamp,
	}
	if allTimestampsNil(window) {
		c.TimestampStart = nil
		c.TimestampEnd = nil
	}
	c.ID = model.ChunkID(c.Contact, c.FirstMessageID, c.MemberCount)
	return c
}

func allTimestampsNil(window []*model.Message) bool {
	for _, m := range window {
		if m.Timestamp != nil {
			return false
		}
	}
	return true
}
