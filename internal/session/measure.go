package session

import (
	"strings"

	"github.com/user/coachchat/internal/types"
)

// Measurer reports how many rows a transcript occupies when rendered.
type Measurer interface {
	Measure(msgs []types.Message) int
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(msgs []types.Message) int

func (f MeasureFunc) Measure(msgs []types.Message) int { return f(msgs) }

// LineMeasurer counts one row per content line plus one separator row per
// message. It is the default when the host does not wrap text.
type LineMeasurer struct{}

func (LineMeasurer) Measure(msgs []types.Message) int {
	rows := 0
	for _, m := range msgs {
		rows += strings.Count(m.Content, "\n") + 2
	}
	return rows
}
