package evidence

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/banshee-data/ppe.report/internal/compliance"
)

const bel = "\a"

// BellAlerter writes a one-line alert to a writer and, when that writer is
// a terminal, rings the bell.
type BellAlerter struct {
	mu   sync.Mutex
	out  io.Writer
	ring bool
}

// NewBellAlerter alerts on out. The bell is only emitted for terminals so
// redirected output stays readable.
func NewBellAlerter(out io.Writer) *BellAlerter {
	return &BellAlerter{out: out, ring: isTerminal(out)}
}

func (b *BellAlerter) Alert(ctx context.Context, a compliance.Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := ""
	if b.ring {
		prefix = bel
	}
	_, err := fmt.Fprintf(b.out, "%s%s ALERT %s %s missing %s\n",
		prefix, a.Timestamp.Format("15:04:05"), a.PersonID, a.Severity, compliance.ItemNames(a.MissingItems))
	if err != nil {
		return fmt.Errorf("alert %s: %w", a.PersonID, err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
