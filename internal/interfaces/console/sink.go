package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"assetwatch/internal/application/port"
)

// Sink redraws one live line in place and prints snapshot lines between blank lines.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink() port.Sink { return NewSinkTo(color.Output) }

func NewSinkTo(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, line) // no newline
	return err
}

// The live line is not redrawn right away; the next price change does it.
func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n%s %s\n\n", ts.Format("2006-01-02 15:04:05"), line)
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\n")
	return err
}
