package netmon

import (
	"context"
	"errors"
	"fmt"
)

// ErrSourceClosed is wrapped by every SourceError.
var ErrSourceClosed = errors.New("monitor source closed")

// SourceError reports that the monitor stream ended or failed. It is fatal to
// monitoring: without a source the host stops reacting to address changes.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrSourceClosed, e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceClosed, e.Err} }

// Source produces raw monitor lines in `ip monitor address` format.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string
	// Start calls emit for each line, in order, until ctx is cancelled or
	// the stream ends. It blocks for the lifetime of the stream.
	Start(ctx context.Context, emit func(line string)) error
}
