package pkg

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter fans log output out to several sinks, e.g. stdout and the rotating log file.
// A failing sink is reported but does not keep the line from the others.
type CombinedWriter struct {
	sinks []io.Writer
}

func NewCombinedWriter(sinks ...io.Writer) *CombinedWriter {
	cw := &CombinedWriter{}
	for _, s := range sinks {
		if s != nil {
			cw.sinks = append(cw.sinks, s)
		}
	}
	return cw
}

func (cw *CombinedWriter) Sinks() int {
	return len(cw.sinks)
}

// Write reports len(p) once at least one sink took the whole line.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var errs error
	delivered := false
	for i, s := range cw.sinks {
		n, err := s.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sink %d: %w", i, err))
			continue
		}
		delivered = true
	}
	if !delivered && len(cw.sinks) > 0 {
		return 0, errs
	}
	return len(p), errs
}
