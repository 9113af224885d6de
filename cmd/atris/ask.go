package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/glassbead/atris/internal/session"
	"github.com/glassbead/atris/internal/trace"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// eventDataWidth caps how much of each event's payload is printed.
const eventDataWidth = 120

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query in the terminal",
		Long: "Routes the query, prints each trace event as the agent emits it, " +
			"then prints the Question and Result.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, strings.Join(args, " "), quiet)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the Question and Result")
	return cmd
}

func runAsk(cmd *cobra.Command, configPath, query string, quiet bool) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	sess, err := session.New(session.Opts{
		Router: a.router,
		Agents: a.agents,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := newPrinter(out)
	transitions, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	run, err := sess.Submit(ctx, query)
	if err != nil {
		return err
	}

	st, err := follow(ctx, p, sess, run.ID, run.Done(), transitions, quiet)
	if err != nil {
		return err
	}
	return p.summary(st)
}

// follow prints the trace events of run runID as they arrive and returns the
// final state once done is closed or the done transition arrives.
//
// A slow terminal can fall behind the subscription and miss transitions.
// Seqs are contiguous, so gaps are filled from the session's snapshot.
func follow(ctx context.Context, p *printer, sess interface{ Snapshot() session.State }, runID string, done <-chan struct{}, transitions <-chan session.Transition, quiet bool) (session.State, error) {
	printed := 0
	catchUp := func(events []trace.Event, upTo int) {
		for _, ev := range events {
			if ev.Seq > printed && ev.Seq <= upTo {
				p.event(ev)
				printed = ev.Seq
			}
		}
	}
	for finished := false; !finished; {
		select {
		case <-ctx.Done():
			return session.State{}, ctx.Err()
		case <-done:
			finished = true
		case tr := <-transitions:
			switch {
			case tr.RunID != runID:
			case tr.Kind == session.KindTrace && !quiet:
				if tr.Event.Seq <= printed {
					continue
				}
				if tr.Event.Seq > printed+1 {
					catchUp(sess.Snapshot().Events, tr.Event.Seq-1)
				}
				p.event(*tr.Event)
				printed = tr.Event.Seq
			case tr.Kind == session.KindDone:
				finished = true
			}
		}
	}

	st := sess.Snapshot()
	if !quiet {
		catchUp(st.Events, len(st.Events))
	}
	return st, nil
}

// printer writes events and views, styling them when out is a terminal.
type printer struct {
	out   io.Writer
	tty   bool
	width int
}

func newPrinter(out io.Writer) *printer {
	p := &printer{out: out, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			p.width = w
		}
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.tty {
		return text
	}
	return s.Render(text)
}

func (p *printer) event(ev trace.Event) {
	var buf bytes.Buffer
	data, err := ev.DataJSON()
	if err == nil {
		err = json.Compact(&buf, data)
	}
	if err != nil {
		buf.Reset()
		fmt.Fprintf(&buf, "%q", err.Error())
	}
	fmt.Fprintf(p.out, "%3d %s %s\n", ev.Seq, p.style(nameStyle, fmt.Sprintf("%-22s", ev.Name)), clip(buf.String(), eventDataWidth))
}

// summary prints the Question and Result views, or the failure. A failed run
// is returned as an error so the exit status reflects it.
func (p *printer) summary(st session.State) error {
	if q, ok := st.Question(); ok {
		fmt.Fprintf(p.out, "\n%s\n%s\n", p.style(headingStyle, "Question"), q)
	}
	if fail, ok := trace.Failed(st.Events); ok {
		fmt.Fprintf(p.out, "\n%s\n%s\n", p.style(errorStyle, "Error ("+fail.Stage+")"), fail.Message)
		return fmt.Errorf("ask: %s failed: %s", fail.Stage, fail.Message)
	}
	if res, ok := st.Result(); ok {
		fmt.Fprintf(p.out, "\n%s\n%s\n", p.style(headingStyle, "Result"), p.markdown(res))
	}
	return nil
}

// markdown renders src for the terminal, or returns it unchanged when out is
// not a terminal or rendering fails.
func (p *printer) markdown(src string) string {
	if !p.tty {
		return src
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.width),
	)
	if err != nil {
		return src
	}
	rendered, err := r.Render(src)
	if err != nil {
		return src
	}
	return strings.TrimRight(rendered, "\n")
}

// clip shortens s to at most n runes, appending "..." if clipped.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
