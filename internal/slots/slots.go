// Package slots enumerates the bookable time slots of a room for one day.
//
// A sequence is lazy and restartable: ranging over the value returned by
// Generate always re-walks the day from its start. Slots are grouped into
// bars (morning, afternoon, overtime). In aligned mode every bar is padded
// with placeholder slots up to a common width so that bars of several rooms
// line up.
package slots

import (
	"iter"
	"time"

	"dosu/internal/clock"
	"dosu/internal/models"
)

// Band is the part of the day a slot belongs to.
type Band int

const (
	Morning Band = iota
	Afternoon
	Overtime
)

func (b Band) String() string {
	switch b {
	case Morning:
		return "morning"
	case Afternoon:
		return "afternoon"
	case Overtime:
		return "overtime"
	}
	return "unknown"
}

// PaddingIndex is the index carried by alignment placeholders.
const PaddingIndex = -1

var (
	defaultMorningEnd   = clock.MustParse("13:00")
	defaultAfternoonEnd = clock.MustParse("18:00")
)

// Slot describes one position of a room's day.
type Slot struct {
	// Index is dense and 0-based over real slots; PaddingIndex for placeholders.
	Index int
	// Hour is the wall-clock hour of Start, -1 for placeholders.
	Hour     int
	Start    time.Time
	Display  string
	Band     Band
	BarStart bool
	Padding  bool
}

type options struct {
	aligned  bool
	barWidth int
}

type Option func(*options)

// Aligned pads every bar to the common bar width.
func Aligned() Option {
	return func(o *options) { o.aligned = true }
}

// WithBarWidth pads to n instead of the room's own longest bar. Implies Aligned.
// Widths below the natural bar length never truncate a bar.
func WithBarWidth(n int) Option {
	return func(o *options) {
		o.aligned = true
		o.barWidth = n
	}
}

// Generate returns the slot sequence of h.
func Generate(h models.BusinessHours, opts ...Option) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		w := NewWalker(h, opts...)
		for {
			s, ok := w.Next()
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Slot]) []Slot {
	var out []Slot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// BarLengths returns the natural (unpadded) length of each bar of h in order.
func BarLengths(h models.BusinessHours) []int {
	var lengths []int
	w := NewWalker(h)
	for {
		s, ok := w.Next()
		if !ok {
			return lengths
		}
		if s.BarStart {
			lengths = append(lengths, 0)
		}
		lengths[len(lengths)-1]++
	}
}

// MaxBarLength is the longest natural bar of h.
func MaxBarLength(h models.BusinessHours) int {
	width := 0
	for _, n := range BarLengths(h) {
		width = max(width, n)
	}
	return width
}

// LastIndex is the index of the final real slot of h, -1 when h has none.
func LastIndex(h models.BusinessHours) int {
	last := -1
	for s := range Generate(h) {
		last = s.Index
	}
	return last
}

// Walker holds the explicit state of one pass over a day.
type Walker struct {
	h            models.BusinessHours
	aligned      bool
	width        int
	morningEnd   time.Time
	afternoonEnd time.Time

	t        time.Time
	index    int
	band     Band
	started  bool
	opening  bool
	barLen   int
	pad      int
	padBand  Band
	finished bool
}

// NewWalker starts a pass at h.Start.
func NewWalker(h models.BusinessHours, opts ...Option) *Walker {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	w := &Walker{
		h:            h,
		aligned:      o.aligned,
		morningEnd:   defaultMorningEnd,
		afternoonEnd: defaultAfternoonEnd,
		t:            h.Start,
	}
	if h.HasLunch() {
		w.morningEnd = h.LunchStart
	}
	if !h.Overtime.IsZero() {
		w.afternoonEnd = h.Overtime
	}
	if w.aligned {
		w.width = max(o.barWidth, MaxBarLength(h))
	}
	if h.Duration <= 0 {
		w.finished = true
	}
	return w
}

func (w *Walker) bandOf(t time.Time) Band {
	switch {
	case t.Before(w.morningEnd):
		return Morning
	case t.Before(w.afternoonEnd):
		return Afternoon
	default:
		return Overtime
	}
}

// closeBar schedules the placeholders that complete the current bar.
func (w *Walker) closeBar() {
	if w.aligned && w.started {
		w.pad = max(0, w.width-w.barLen)
		w.padBand = w.band
	}
	w.barLen = 0
}

// Next returns the next slot, or false once the day is exhausted.
func (w *Walker) Next() (Slot, bool) {
	for {
		if w.pad > 0 {
			w.pad--
			return Slot{Index: PaddingIndex, Hour: -1, Band: w.padBand, Padding: true}, true
		}
		if w.finished {
			return Slot{}, false
		}
		if !w.t.Before(w.h.End) {
			w.closeBar()
			w.finished = true
			continue
		}
		if w.h.InLunch(w.t) {
			w.t = w.h.LunchEnd
			continue
		}

		band := w.bandOf(w.t)
		if w.started && band != w.band && !w.opening {
			w.closeBar()
			w.band = band
			w.opening = true
			continue
		}

		s := Slot{
			Index:    w.index,
			Hour:     clock.Hour(w.t),
			Start:    w.t,
			Display:  clock.Format(w.t),
			Band:     band,
			BarStart: !w.started || w.opening,
		}
		w.band = band
		w.started = true
		w.opening = false
		w.barLen++
		w.index++
		w.t = clock.Add(w.t, w.h.Duration)
		return s, true
	}
}
