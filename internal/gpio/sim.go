package gpio

import (
	"fmt"
	"sort"
)

// Sim simulates encoders wired to a common bus. Each encoder's contacts reach
// the shared lines only while its select line is driven low; the shared lines
// are pulled up, so with nothing selected they read high and with several
// selected they read as a wired AND.
//
// Sim is not safe for concurrent use.
type Sim struct {
	LineA      int
	LineB      int
	LineSwitch int

	encoders    map[int]*simEncoder // by select line
	levels      map[int]bool        // driven output levels
	reads       map[int]int
	selections  map[int]int
	maxSelected int
	Closed      bool
}

type simEncoder struct {
	a, b       bool
	switchHold int
	bounce     map[int][]bool
}

// NewSim creates a simulated bus with the given shared lines.
func NewSim(lineA, lineB, lineSwitch int) *Sim {
	return &Sim{
		LineA:      lineA,
		LineB:      lineB,
		LineSwitch: lineSwitch,
		encoders:   make(map[int]*simEncoder),
		levels:     make(map[int]bool),
		reads:      make(map[int]int),
		selections: make(map[int]int),
	}
}

// AddEncoder wires an encoder on selectLine, resting at a detent with the
// switch released.
func (s *Sim) AddEncoder(selectLine int) {
	s.encoders[selectLine] = &simEncoder{a: true, b: true, bounce: make(map[int][]bool)}
}

// Set places the encoder's A and B contacts at the given levels.
func (s *Sim) Set(selectLine int, a, b bool) {
	e := s.mustEncoder(selectLine)
	e.a, e.b = a, b
}

// Press holds the encoder's switch down for the next holdReads reads of the
// switch line made while it is selected.
func (s *Sim) Press(selectLine int, holdReads int) {
	s.mustEncoder(selectLine).switchHold = holdReads
}

// Bounce queues raw samples the encoder presents on a shared line before it
// returns to its steady level.
func (s *Sim) Bounce(selectLine, line int, samples ...bool) {
	e := s.mustEncoder(selectLine)
	e.bounce[line] = append(e.bounce[line], samples...)
}

// ReadLine returns the level of a shared line as the selected encoders pull it,
// or the driven level of a select line.
func (s *Sim) ReadLine(line int) (bool, error) {
	if line != s.LineA && line != s.LineB && line != s.LineSwitch {
		if _, ok := s.encoders[line]; ok {
			return s.driven(line), nil
		}
		return false, fmt.Errorf("sim: unknown line %d", line)
	}
	s.reads[line]++

	level := true
	for sel, e := range s.encoders {
		if s.driven(sel) {
			continue
		}
		level = e.present(line, s) && level
	}
	return level, nil
}

func (e *simEncoder) present(line int, s *Sim) bool {
	if q := e.bounce[line]; len(q) > 0 {
		e.bounce[line] = q[1:]
		return q[0]
	}
	switch line {
	case s.LineA:
		return e.a
	case s.LineB:
		return e.b
	}
	if e.switchHold > 0 {
		e.switchHold--
		return false
	}
	return true
}

// WriteLine drives a select line.
func (s *Sim) WriteLine(line int, level bool) error {
	if _, ok := s.encoders[line]; !ok {
		return fmt.Errorf("sim: line %d is not a select line", line)
	}
	s.levels[line] = level
	if !level {
		s.selections[line]++
	}
	if n := len(s.Selected()); n > s.maxSelected {
		s.maxSelected = n
	}
	return nil
}

// driven returns the level of a select line; undriven lines float high.
func (s *Sim) driven(line int) bool {
	level, ok := s.levels[line]
	return !ok || level
}

// Selected returns the select lines currently driven low, ascending.
func (s *Sim) Selected() []int {
	var out []int
	for sel := range s.encoders {
		if !s.driven(sel) {
			out = append(out, sel)
		}
	}
	sort.Ints(out)
	return out
}

// MaxSelected returns the largest number of encoders ever selected at once.
func (s *Sim) MaxSelected() int {
	return s.maxSelected
}

// Selections returns how many times selectLine was driven low.
func (s *Sim) Selections(selectLine int) int {
	return s.selections[selectLine]
}

// Reads returns how many times a shared line was read.
func (s *Sim) Reads(line int) int {
	return s.reads[line]
}

// Close marks the bus as closed.
func (s *Sim) Close() error {
	s.Closed = true
	return nil
}

func (s *Sim) mustEncoder(selectLine int) *simEncoder {
	e, ok := s.encoders[selectLine]
	if !ok {
		panic(fmt.Sprintf("sim: no encoder on line %d", selectLine))
	}
	return e
}
