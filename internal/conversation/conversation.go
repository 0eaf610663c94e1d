// Package conversation holds the ordered turn history exchanged with the
// model during one run.
package conversation

import (
	"fmt"
	"strings"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// Brief is what the opening turns are built from.
type Brief struct {
	Target        string
	Mode          v1alpha1.Mode
	MaxIterations int
	Tools         []string
	Instructions  string
}

// Conversation is an append-only log of turns. Turns are never removed,
// reordered or edited once appended. A Conversation belongs to one run
// and is not safe for concurrent use.
type Conversation struct {
	turns []v1alpha1.Turn
}

// New returns an empty Conversation.
func New() *Conversation {
	return &Conversation{}
}

// Seed creates a Conversation holding the system and user turns that set
// the objective and constraints of a run.
func Seed(b Brief) *Conversation {
	c := New()
	c.Append(v1alpha1.Turn{Role: v1alpha1.RoleSystem, Content: SystemPrompt(b)})
	c.Append(v1alpha1.Turn{Role: v1alpha1.RoleUser, Content: objective(b)})
	return c
}

// Append adds t to the end of the log.
func (c *Conversation) Append(t v1alpha1.Turn) {
	if len(t.ToolCalls) > 0 {
		t.ToolCalls = append([]v1alpha1.ToolCall(nil), t.ToolCalls...)
	}
	c.turns = append(c.turns, t)
}

// Render returns the full ordered history to submit on the next model
// call. The returned slice is a copy.
func (c *Conversation) Render() []v1alpha1.Turn {
	out := make([]v1alpha1.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// SystemPrompt renders the system turn for b.
func SystemPrompt(b Brief) string {
	var sb strings.Builder
	sb.WriteString(`You are a methodical penetration tester working through an authorised engagement.
You enumerate a single target using the scanning tools you are given, one step at a time.

Rules:
1. Call tools through function calling only. Never describe a command instead of calling it.
2. Only use a tool for a service that earlier output shows is present. Web tools
   (whatweb, gobuster, nikto, sqlmap) need an HTTP or HTTPS service.
3. Do not repeat a call that already produced output. Read the earlier results and build on them.
4. A tool result may report an error or a timeout. Treat it as information, adjust the
   arguments or pick another tool.
5. When enumeration is complete, or nothing useful is left to try, stop calling tools and
   answer with a concise report: open services, technologies, findings and suggested next steps.
`)
	if len(b.Tools) > 0 {
		fmt.Fprintf(&sb, "\nAvailable tools: %s.\n", strings.Join(b.Tools, ", "))
	}
	fmt.Fprintf(&sb, "You have at most %d rounds of tool calls.\n", b.MaxIterations)
	if s := strings.TrimSpace(b.Instructions); s != "" {
		fmt.Fprintf(&sb, "\nOperator instructions:\n%s\n", s)
	}
	return sb.String()
}

func objective(b Brief) string {
	return fmt.Sprintf("Target: %s\nMode: %s (%d rounds)\nStart the enumeration of the target.",
		b.Target, b.Mode, b.MaxIterations)
}
