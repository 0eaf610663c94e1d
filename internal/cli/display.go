package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/klubi/scout/internal/agent"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// console renders loop progress and streamed tool output for a terminal.
// It is both an agent.Observer and a runner.Observer; the two are called
// from different goroutines, so every write holds mu.
type console struct {
	mu  sync.Mutex
	out io.Writer

	banner  *color.Color
	tool    *color.Color
	line    *color.Color
	ok      *color.Color
	fail    *color.Color
	thought *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:     out,
		banner:  color.New(color.FgCyan, color.Bold),
		tool:    color.New(color.FgYellow),
		line:    color.New(color.Faint),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		thought: color.New(color.Italic),
	}
}

// OnLine prints one streamed line of tool output.
func (c *console) OnLine(label, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line.Fprintf(c.out, "  │ %s\n", line)
}

func (c *console) RoundStarted(runID string, iteration, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	c.banner.Fprintf(c.out, "── Round %d/%d ──\n", iteration, max)
}

// ModelReplied shows any reasoning the model gave alongside tool calls.
// A final answer is printed by RunFinished.
func (c *console) ModelReplied(runID string, resp *agent.ModelResponse) {
	if len(resp.ToolCalls) == 0 || strings.TrimSpace(resp.Content) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thought.Fprintln(c.out, strings.TrimSpace(resp.Content))
}

func (c *console) ToolStarted(runID string, call v1alpha1.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tool.Fprintf(c.out, "▶ %s %s\n", call.Name, call.Arguments)
}

func (c *console) ToolFinished(runID string, res v1alpha1.ToolResult, inv v1alpha1.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	detail := fmt.Sprintf("%s, %d bytes", inv.Duration.Round(time.Millisecond), inv.RawLength)
	if res.Status == v1alpha1.StatusOK {
		c.ok.Fprintf(c.out, "✔ %s ok (%s)\n", res.ToolName, detail)
		return
	}
	c.fail.Fprintf(c.out, "✘ %s %s (%s)\n", res.ToolName, res.Status, detail)
	if len(inv.Argv) == 0 {
		// Rejected before a process ran; show why.
		c.fail.Fprintf(c.out, "  %s\n", firstLine(res.Output))
	}
}

func (c *console) RunFinished(runID string, outcome *agent.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	if outcome.Answer != "" {
		c.banner.Fprintln(c.out, "── Report ──")
		fmt.Fprintln(c.out, outcome.Answer)
		fmt.Fprintln(c.out)
	}
	writeSummary(c.out, outcome)
}

// writeSummary prints the execution summary: final status, rounds used and
// tool invocations grouped by tool and status.
func writeSummary(w io.Writer, outcome *agent.Outcome) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, "Execution summary")

	status := color.New(color.FgGreen)
	switch outcome.Phase {
	case v1alpha1.RunBudgetExhausted:
		status = color.New(color.FgYellow)
	case v1alpha1.RunAborted:
		status = color.New(color.FgRed)
	}
	fmt.Fprint(w, "  Status:      ")
	status.Fprintln(w, outcome.Phase)
	if outcome.Err != nil {
		fmt.Fprintf(w, "  Error:       %v\n", outcome.Err)
	}
	fmt.Fprintf(w, "  Rounds:      %d\n", outcome.Iterations)
	fmt.Fprintf(w, "  Invocations: %d\n", len(outcome.Invocations))

	for _, line := range invocationCounts(outcome.Invocations) {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

// statusRejected marks calls refused before any process ran.
const statusRejected v1alpha1.ExitStatus = "rejected"

// invocationCounts returns "tool: N ok, M error" lines in tool order.
func invocationCounts(invocations []v1alpha1.Invocation) []string {
	counts := map[string]map[v1alpha1.ExitStatus]int{}
	for _, inv := range invocations {
		if counts[inv.ToolName] == nil {
			counts[inv.ToolName] = map[v1alpha1.ExitStatus]int{}
		}
		status := inv.Status
		if len(inv.Argv) == 0 {
			status = statusRejected
		}
		counts[inv.ToolName][status]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		var parts []string
		for _, s := range []v1alpha1.ExitStatus{v1alpha1.StatusOK, v1alpha1.StatusError, v1alpha1.StatusTimeout, statusRejected} {
			if n := counts[name][s]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, s))
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, strings.Join(parts, ", ")))
	}
	return lines
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
