// Package transcript holds the ordered, deduplicated message list of one
// conversation.
package transcript

import (
	"cmp"
	"slices"

	"github.com/user/coachchat/internal/types"
)

// Store is the transcript of a single conversation target. Messages are
// unique by ID and, apart from optimistic appends, ascending by SortKey.
//
// Store is not safe for concurrent use; the owning session serialises access.
type Store struct {
	messages []types.Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Seed replaces the contents with a deduplicated, sorted copy of initial.
func (s *Store) Seed(initial []types.Message) {
	s.messages = sortStable(dedupe(nil, initial))
}

// MergeDedupe folds incoming into the store. When an id appears more than
// once the last occurrence wins but keeps the slot of the first, so merging
// the same page twice is a no-op.
func (s *Store) MergeDedupe(incoming []types.Message) {
	if len(incoming) == 0 {
		return
	}
	s.messages = sortStable(dedupe(s.messages, incoming))
}

// AppendOptimistic adds msg at the end without re-sorting. If the id is
// already present the existing entry is overwritten in place.
func (s *Store) AppendOptimistic(msg types.Message) {
	if i := s.index(msg.ID); i >= 0 {
		s.messages[i] = msg
		return
	}
	s.messages = append(s.messages, msg)
}

// Replace swaps the message with the given id for msg, keeping its
// position. Any other entry already carrying msg.ID is dropped. It reports
// whether id was present.
func (s *Store) Replace(id string, msg types.Message) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.messages[i] = msg
	if msg.ID == id {
		return true
	}
	for j := 0; j < len(s.messages); j++ {
		if j != i && s.messages[j].ID == msg.ID {
			s.messages = append(s.messages[:j], s.messages[j+1:]...)
			break
		}
	}
	return true
}

// Remove deletes the message with the given id and reports whether it was
// present.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (types.Message, bool) {
	if i := s.index(id); i >= 0 {
		return s.messages[i], true
	}
	return types.Message{}, false
}

// Messages returns a copy of the transcript in display order.
func (s *Store) Messages() []types.Message {
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Oldest returns the first message in display order.
func (s *Store) Oldest() (types.Message, bool) {
	if len(s.messages) == 0 {
		return types.Message{}, false
	}
	return s.messages[0], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.messages)
}

func (s *Store) index(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// dedupe concatenates existing and incoming, collapsing repeated ids.
func dedupe(existing, incoming []types.Message) []types.Message {
	out := make([]types.Message, 0, len(existing)+len(incoming))
	slot := make(map[string]int, len(existing)+len(incoming))
	for _, batch := range [][]types.Message{existing, incoming} {
		for _, msg := range batch {
			if i, ok := slot[msg.ID]; ok {
				out[i] = msg
				continue
			}
			slot[msg.ID] = len(out)
			out = append(out, msg)
		}
	}
	return out
}

func sortStable(msgs []types.Message) []types.Message {
	type keyed struct {
		key int64
		msg types.Message
	}
	ks := make([]keyed, len(msgs))
	for i, m := range msgs {
		ks[i] = keyed{key: m.SortKey(), msg: m}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		return cmp.Compare(a.key, b.key)
	})
	out := make([]types.Message, len(ks))
	for i, k := range ks {
		out[i] = k.msg
	}
	return out
}
