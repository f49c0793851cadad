package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"assetwatch/internal/domain/model"
)

const NotifierName = "console"

// Notifier prints trigger events to the terminal, optionally ringing the bell.
// It stands in for a desktop notification and is gated by the same permission.
type Notifier struct {
	mu    sync.Mutex
	out   io.Writer
	bell  bool
	title *color.Color
}

func NewNotifier(w io.Writer, bell bool) *Notifier {
	if w == nil {
		w = color.Output
	}
	return &Notifier{
		out:   w,
		bell:  bell,
		title: color.New(color.FgRed, color.Bold),
	}
}

func (n *Notifier) Name() string { return NotifierName }

func (n *Notifier) Notify(ctx context.Context, ev model.TriggerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	prefix := "\n"
	if n.bell {
		prefix = "\a\n"
	}
	_, err := fmt.Fprintf(n.out, "%s%s %s  %s\n",
		prefix,
		ev.TriggeredAt.Format("15:04:05"),
		n.title.Sprint(ev.Title()),
		ev.Message(),
	)
	return err
}
