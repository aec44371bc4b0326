package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/hasbase/hasbase-core/bootstrap"
	"github.com/hasbase/hasbase-core/events"
	"github.com/hasbase/hasbase-core/ipc"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

// console prints sidecar events and command results. Styles are bound to the
// writer's renderer, so output to a pipe or buffer carries no escape codes.
type console struct {
	mu  sync.Mutex
	out io.Writer

	stdoutTag lipgloss.Style
	stderrTag lipgloss.Style
	ok        lipgloss.Style
	fail      lipgloss.Style
	warn      lipgloss.Style
	muted     lipgloss.Style
	title     lipgloss.Style
}

func newConsole(out io.Writer) *console {
	r := lipgloss.NewRenderer(out)
	return &console{
		out:       out,
		stdoutTag: r.NewStyle().Foreground(primaryColor).Bold(true),
		stderrTag: r.NewStyle().Foreground(errorColor).Bold(true),
		ok:        r.NewStyle().Foreground(successColor),
		fail:      r.NewStyle().Foreground(errorColor),
		warn:      r.NewStyle().Foreground(warningColor),
		muted:     r.NewStyle().Foreground(mutedColor),
		title:     r.NewStyle().Foreground(primaryColor).Bold(true),
	}
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Print writes one sidecar output line, tagged with its stream. It is a
// events.Handler.
func (c *console) Print(e events.Event) {
	switch e.Stream() {
	case events.Stderr:
		c.println(c.stderrTag.Render("[sidecar:err]") + " " + e.Payload)
	default:
		c.println(c.stdoutTag.Render("[sidecar]") + " " + e.Payload)
	}
}

// Result prints the outcome of a start or shutdown command.
func (c *console) Result(msg string, err error) {
	if err != nil {
		c.println(c.fail.Render("✗ " + err.Error()))
		return
	}
	c.println(c.ok.Render("✓ " + msg))
}

// Info prints a neutral message.
func (c *console) Info(msg string) {
	c.println(c.muted.Render(msg))
}

// Status prints the sidecar state.
func (c *console) Status(st ipc.Status) {
	switch {
	case st.State != "running":
		c.println(c.muted.Render("○ sidecar not running"))
	case st.Exited:
		c.println(c.warn.Render(fmt.Sprintf("! sidecar pid %d has exited (run %s)", st.PID, st.RunID)))
	default:
		c.println(c.ok.Render(fmt.Sprintf("● sidecar running, pid %d (run %s)", st.PID, st.RunID)))
	}
}

// Report prints a bootstrap report.
func (c *console) Report(r bootstrap.Report) {
	c.println(c.title.Render("Data directory: " + r.Root))
	for _, p := range r.Created {
		c.println(c.ok.Render("  + " + p))
	}
	for _, p := range r.Existing {
		c.println(c.muted.Render("  = " + p))
	}
	for _, p := range r.Invalid {
		c.println(c.warn.Render("  ! " + p + " is not valid JSON"))
	}
	for _, f := range r.Failed {
		c.println(c.fail.Render("  ✗ " + f.Error()))
	}
}
