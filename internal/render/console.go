package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/services"
)

// Console renders tracker snapshots as plain terminal output: a stage line,
// the progress percentage and any log lines appended since the last
// snapshot.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	logged int
}

var _ services.Sink = (*Console)(nil)

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Publish(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logged > len(snap.Log) {
		// A fresh job replaced the tracked one; its log starts over.
		c.logged = 0
	}
	for _, entry := range snap.Log[c.logged:] {
		fmt.Fprintf(c.out, "  %s  %s\n", entry.Timestamp.Format("15:04:05"), entry.Message)
	}
	c.logged = len(snap.Log)

	fmt.Fprintf(c.out, "[%3d%%] %s", snap.Percent, stageLine(snap))
	if snap.Mode == domain.ModeSimulated {
		fmt.Fprint(c.out, "  (simulated)")
	}
	if snap.Terminal {
		fmt.Fprintf(c.out, "  -> %s", snap.Status)
	}
	fmt.Fprintln(c.out)
}

func stageLine(snap domain.Snapshot) string {
	line := ""
	for i, stage := range domain.Stages() {
		if i > 0 {
			line += " "
		}
		line += glyph(snap.Stages[stage]) + string(stage)
	}
	return line
}

func glyph(status domain.StageStatus) string {
	switch status {
	case domain.StageActive:
		return ">"
	case domain.StageComplete:
		return "+"
	case domain.StageFailed:
		return "x"
	default:
		return "."
	}
}
