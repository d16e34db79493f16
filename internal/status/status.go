// Package status renders lock wait feedback on a terminal.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/JoobyPM/kopi-locking/internal/locking"
	"github.com/JoobyPM/kopi-locking/internal/stringutil"
)

const (
	maxLabelLen = 60
	// stillWaitingEvery throttles plain-text progress lines.
	stillWaitingEvery = 10
)

const (
	colorPrimary = "#7D56F4"
	colorDim     = "#666666"
	colorError   = "#FF5F87"
	colorGreen   = "#87D787"
	colorYellow  = "#FFD787"
)

var (
	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPrimary))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorDim))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGreen))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorYellow))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorError)).
			Bold(true)
)

// Reporter is a locking.Feedback that writes wait progress to w. On a
// terminal it redraws a single spinner line on every tick; elsewhere it
// prints a line when waiting starts and every tenth retry after that.
type Reporter struct {
	w           io.Writer
	source      string
	interactive bool
	frames      []string

	mu       sync.Mutex
	attempts int
	drawn    bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInteractive forces terminal or plain output.
func WithInteractive(v bool) Option {
	return func(r *Reporter) {
		r.interactive = v
	}
}

// NewReporter writes to w. source names where the lock timeout came from
// (e.g. "CLI flag") and is echoed in the first wait message.
func NewReporter(w io.Writer, source string, opts ...Option) *Reporter {
	r := &Reporter{
		w:           w,
		source:      source,
		interactive: isTerminal(w),
		frames:      spinner.Dot.Frames,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func label(key locking.Key) string {
	return stringutil.Truncate(key.Label(), maxLabelLen)
}

// OnWaitStarted implements locking.Feedback.
func (r *Reporter) OnWaitStarted(key locking.Key, policy locking.TimeoutPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = 0
	msg := fmt.Sprintf("Waiting for %s lock (timeout %s", label(key), policy.String())
	if r.source != "" {
		msg += ", source " + r.source
	}
	msg += ")"

	if r.interactive {
		r.draw(fmt.Sprintf("%s %s", spinnerStyle.Render(r.frames[0]), msg))
		return
	}
	r.println(msg)
}

// OnTick implements locking.Feedback.
func (r *Reporter) OnTick(key locking.Key, elapsed time.Duration, remaining *time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++

	if r.interactive {
		frame := r.frames[r.attempts%len(r.frames)]
		line := fmt.Sprintf("%s Waiting for %s lock %s",
			spinnerStyle.Render(frame), label(key), dimStyle.Render(progress(elapsed, remaining)))
		r.draw(line)
		return
	}

	if r.attempts == 1 {
		r.println(fmt.Sprintf("Lock contention detected for %s, %s", label(key), progress(elapsed, remaining)))
		return
	}
	if r.attempts%stillWaitingEvery == 0 {
		r.println(fmt.Sprintf("Still waiting for %s lock after %s (attempt %d)",
			label(key), locking.FormatDuration(elapsed), r.attempts))
	}
}

// OnAcquired implements locking.Feedback.
func (r *Reporter) OnAcquired(key locking.Key, elapsed time.Duration) {
	r.finish(successStyle, fmt.Sprintf("✓ Acquired %s lock after %s", label(key), locking.FormatDuration(elapsed)))
}

// OnTimeout implements locking.Feedback.
func (r *Reporter) OnTimeout(key locking.Key, elapsed time.Duration) {
	r.finish(errorStyle, fmt.Sprintf("✗ Timed out waiting for %s lock after %s", label(key), locking.FormatDuration(elapsed)))
}

// OnCancelled implements locking.Feedback.
func (r *Reporter) OnCancelled(key locking.Key, elapsed time.Duration) {
	r.finish(warnStyle, fmt.Sprintf("Cancelled while waiting for %s lock after %s", label(key), locking.FormatDuration(elapsed)))
}

func (r *Reporter) finish(style lipgloss.Style, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interactive {
		r.clear()
		msg = style.Render(msg)
	}
	r.println(msg)
}

func progress(elapsed time.Duration, remaining *time.Duration) string {
	if remaining == nil {
		return fmt.Sprintf("waited %s", locking.FormatDuration(elapsed))
	}
	return fmt.Sprintf("waited %s (~%s remaining)", locking.FormatDuration(elapsed), locking.FormatDuration(*remaining))
}

// draw replaces the current spinner line.
func (r *Reporter) draw(line string) {
	fmt.Fprint(r.w, "\r\x1b[2K"+line) //nolint:errcheck // best effort terminal output
	r.drawn = true
}

func (r *Reporter) clear() {
	if r.drawn {
		fmt.Fprint(r.w, "\r\x1b[2K") //nolint:errcheck // best effort terminal output
		r.drawn = false
	}
}

func (r *Reporter) println(msg string) {
	fmt.Fprintln(r.w, strings.TrimRight(msg, "\n")) //nolint:errcheck // best effort terminal output
}

var _ locking.Feedback = (*Reporter)(nil)
