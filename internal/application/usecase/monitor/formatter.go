package monitor

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"assetwatch/internal/application/usecase/market"
	"assetwatch/internal/domain/model"
)

const ansiClearEOL = "\033[K"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

// MarketView is the read side of the multiplexer the formatter needs.
type MarketView interface {
	ChangeSince(asset string) model.Change
	Status(asset string) (market.StreamStatus, bool)
}

type Formatter struct {
	view MarketView
}

func NewFormatter(view MarketView) *Formatter {
	return &Formatter{view: view}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

// Render builds one status line, e.g.
// "[ASSETWATCH] BTC 43012.5 +0.42%  ||  ETH -- (reconnecting #2)".
func (f *Formatter) Render(st *State, mode RenderMode) string {
	snap := st.Snapshot()

	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}
	sb.WriteString(dim("[ASSETWATCH] "))

	for i, asset := range st.Symbols() {
		if i > 0 {
			sb.WriteString(dim("  ||  "))
		}
		ps := snap[asset]

		sb.WriteString(asset)
		sb.WriteString(" ")
		if !ps.has {
			sb.WriteString(yellow("--"))
		} else {
			px := ps.price.String()
			switch ps.dir {
			case DirUp:
				sb.WriteString(green(px))
			case DirDown:
				sb.WriteString(red(px))
			default:
				sb.WriteString(yellow(px))
			}
		}

		if f.view == nil {
			continue
		}
		if ps.has {
			pct := f.view.ChangeSince(asset).Percent
			label := fmt.Sprintf("%s%s%%", sign(pct.Sign()), pct.Abs().StringFixed(2))
			switch pct.Sign() {
			case 1:
				label = green(label)
			case -1:
				label = red(label)
			default:
				label = yellow(label)
			}
			sb.WriteString(" ")
			sb.WriteString(label)
		}
		if status, ok := f.view.Status(asset); ok && status.State == market.StateReconnecting {
			sb.WriteString(" ")
			sb.WriteString(red(fmt.Sprintf("(reconnecting #%d)", status.Attempt)))
		}
	}

	if mode == RenderLive {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

func sign(s int) string {
	if s < 0 {
		return "-"
	}
	return "+"
}

// RenderRecent lists triggered rules newest first, one per line, for the snapshot.
func (f *Formatter) RenderRecent(events []model.TriggerEvent) string {
	if len(events) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "\n  %s %s %s %s %s at %s",
			dim("triggered"),
			ev.TriggeredAt.Format("15:04:05"),
			ev.Asset,
			ev.Comparison,
			ev.Threshold.String(),
			red(ev.ObservedPrice.String()),
		)
	}
	return sb.String()
}
