// Package tui provides a terminal browser for saved scout runs.
package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// Source is where the browser reads run records from. *client.Client
// satisfies it directly; StoreSource adapts a local store.
type Source interface {
	ListRuns(phase v1alpha1.RunPhase) ([]*v1alpha1.Run, error)
	GetRun(id string) (*v1alpha1.Run, error)
	DeleteRun(id string) error
}

// view is a phase filter selected with the number keys.
type view struct {
	key   string
	name  string
	phase v1alpha1.RunPhase
}

var views = []view{
	{"1", "All", ""},
	{"2", "Running", v1alpha1.RunRunning},
	{"3", "Completed", v1alpha1.RunCompleted},
	{"4", "Budget", v1alpha1.RunBudgetExhausted},
	{"5", "Aborted", v1alpha1.RunAborted},
}

var columns = []string{"ID", "TARGET", "MODE", "PHASE", "ROUNDS", "TOOLS", "AGE"}

// App is the main TUI application. It polls its Source and displays runs
// in a navigable table, with the selected run's transcript on demand.
type App struct {
	app         *tview.Application
	pages       *tview.Pages
	header      *tview.TextView
	footer      *tview.TextView
	table       *tview.Table
	filterInput *tview.InputField
	detailView  *tview.TextView
	layout      *tview.Flex

	source Source
	label  string

	mu          sync.Mutex
	currentView view
	filter      string
	// Cached data from the last successful refresh.
	runs    []*v1alpha1.Run
	lastErr error

	// mainFlex is the outermost vertical flex (header + content + footer).
	mainFlex *tview.Flex

	// describeOpen tracks whether the transcript panel is visible.
	describeOpen bool
	// filterOpen tracks whether the filter input is visible.
	filterOpen bool
}

// NewApp creates a run browser reading from source. label names the
// source in the header.
func NewApp(source Source, label string) *App {
	a := &App{
		app:         tview.NewApplication(),
		source:      source,
		label:       label,
		currentView: views[0],
	}

	// -- Header --
	a.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.header.SetBackgroundColor(tcell.ColorDarkBlue)

	// -- Footer --
	a.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.footer.SetBackgroundColor(tcell.ColorDarkBlue)

	// -- Table --
	a.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0). // header row stays fixed
		SetSeparator(tview.Borders.Vertical)
	a.table.SetBorder(false)
	a.table.SetBorderPadding(0, 0, 1, 1)

	// -- Filter input --
	a.filterInput = tview.NewInputField().
		SetLabel(" Filter: ").
		SetFieldWidth(40).
		SetFieldBackgroundColor(tcell.ColorBlack).
		SetLabelColor(tcell.ColorYellow)

	a.filterInput.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			a.mu.Lock()
			a.filter = a.filterInput.GetText()
			a.mu.Unlock()
		case tcell.KeyEscape:
			a.mu.Lock()
			a.filter = ""
			a.mu.Unlock()
			a.filterInput.SetText("")
		default:
			return
		}
		a.hideFilter()
		a.updateHeader()
		a.updateTable()
	})

	// -- Transcript view --
	a.detailView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	a.detailView.SetBorder(true).
		SetTitle(" Transcript ").
		SetBorderColor(tcell.ColorDodgerBlue)

	contentFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(a.table, 0, 1, true)

	a.mainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 1, 0, false).
		AddItem(contentFlex, 0, 1, true).
		AddItem(a.footer, 1, 0, false)

	a.layout = contentFlex

	a.pages = tview.NewPages().
		AddPage("main", a.mainFlex, true, true)

	a.updateHeader()
	a.updateFooter()
	a.setupKeyBindings()

	a.app.SetRoot(a.pages, true).SetFocus(a.table)

	return a
}

// Run starts the background refresh goroutine and runs the TUI event loop.
func (a *App) Run() error {
	a.refresh()
	a.updateTable()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.refresh()
				a.app.QueueUpdateDraw(a.updateTable)
			}
		}
	}()

	return a.app.Run()
}

// ---------------------------------------------------------------------------
// Key bindings
// ---------------------------------------------------------------------------

func (a *App) setupKeyBindings() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// When the filter input has focus, let it handle its own keys.
		if a.filterOpen {
			return event
		}

		switch event.Key() {
		case tcell.KeyRune:
			for _, v := range views {
				if string(event.Rune()) == v.key {
					a.switchView(v)
					return nil
				}
			}
			switch event.Rune() {
			case '/':
				a.showFilter()
				return nil
			case 'q':
				a.app.Stop()
				return nil
			case 'r':
				go func() {
					a.refresh()
					a.app.QueueUpdateDraw(a.updateTable)
				}()
				return nil
			case 'd':
				a.confirmDelete()
				return nil
			case 'j':
				row, _ := a.table.GetSelection()
				if row < a.table.GetRowCount()-1 {
					a.table.Select(row+1, 0)
				}
				return nil
			case 'k':
				row, _ := a.table.GetSelection()
				if row > 1 { // row 0 is the header
					a.table.Select(row-1, 0)
				}
				return nil
			}
		case tcell.KeyEnter:
			a.showDescribe()
			return nil
		case tcell.KeyEscape:
			switch {
			case a.describeOpen:
				a.hideDescribe()
			case a.currentFilter() != "":
				a.mu.Lock()
				a.filter = ""
				a.mu.Unlock()
				a.updateHeader()
				a.updateTable()
			default:
				a.app.Stop()
			}
			return nil
		}

		return event
	})
}

func (a *App) currentFilter() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter
}

func (a *App) switchView(v view) {
	a.mu.Lock()
	a.currentView = v
	a.mu.Unlock()

	a.updateHeader()

	go func() {
		a.refresh()
		a.app.QueueUpdateDraw(a.updateTable)
	}()
}

// ---------------------------------------------------------------------------
// Data refresh
// ---------------------------------------------------------------------------

func (a *App) refresh() {
	a.mu.Lock()
	phase := a.currentView.phase
	a.mu.Unlock()

	runs, err := a.source.ListRuns(phase)

	a.mu.Lock()
	if err == nil {
		a.runs = runs
	}
	a.lastErr = err
	a.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Table rendering
// ---------------------------------------------------------------------------

func (a *App) updateTable() {
	a.table.Clear()

	a.mu.Lock()
	filter := strings.ToLower(a.filter)
	runs := a.runs
	err := a.lastErr
	a.mu.Unlock()

	if err != nil {
		a.setTableHeaders([]string{"ERROR"})
		a.table.SetCell(1, 0,
			tview.NewTableCell(fmt.Sprintf("Error: %v", err)).
				SetTextColor(tcell.ColorRed))
		return
	}

	a.setTableHeaders(columns)
	row := 1
	for _, run := range runs {
		if !matchesFilter(filter, run.Metadata.Name, run.Spec.Target, string(run.Spec.Mode), string(run.Status.Phase)) {
			continue
		}
		cells := runRow(run)
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetExpansion(1)
			if col == 3 {
				cell.SetTextColor(phaseColor(run.Status.Phase))
			}
			a.table.SetCell(row, col, cell)
		}
		row++
	}

	if a.table.GetRowCount() > 1 {
		a.table.Select(1, 0)
	}
}

// runRow returns the table cells for run, in column order.
func runRow(run *v1alpha1.Run) []string {
	return []string{
		run.Metadata.Name,
		run.Spec.Target,
		string(run.Spec.Mode),
		string(run.Status.Phase),
		fmt.Sprintf("%d/%d", run.Status.Iterations, run.Spec.MaxIterations),
		fmt.Sprintf("%d", len(run.Status.Invocations)),
		formatAge(run.Metadata.CreatedAt),
	}
}

func (a *App) setTableHeaders(headers []string) {
	for i, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(tcell.ColorWhite).
			SetBackgroundColor(tcell.ColorDarkCyan).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1)
		a.table.SetCell(0, i, cell)
	}
}

// matchesFilter reports whether any value contains filter. An empty filter
// matches everything.
func matchesFilter(filter string, values ...string) bool {
	if filter == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), filter) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Transcript (detail panel)
// ---------------------------------------------------------------------------

func (a *App) selectedID() (string, bool) {
	row, _ := a.table.GetSelection()
	if row < 1 || row >= a.table.GetRowCount() {
		return "", false
	}
	return a.table.GetCell(row, 0).Text, true
}

func (a *App) showDescribe() {
	id, ok := a.selectedID()
	if !ok {
		return
	}

	var detail string
	run, err := a.source.GetRun(id)
	if err != nil {
		detail = fmt.Sprintf("[red]Error: %v[-]", err)
	} else {
		detail = formatTranscript(run)
	}

	a.detailView.Clear()
	a.detailView.SetText(detail)
	a.detailView.ScrollToBeginning()

	if !a.describeOpen {
		a.layout.AddItem(a.detailView, 0, 2, false)
		a.describeOpen = true
	}
}

func (a *App) hideDescribe() {
	if a.describeOpen {
		a.layout.RemoveItem(a.detailView)
		a.describeOpen = false
		a.app.SetFocus(a.table)
	}
}

// formatTranscript renders a run's metadata, invocations and turns with
// tview colour tags.
func formatTranscript(run *v1alpha1.Run) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[::b]Run:[-::-]         %s\n", run.Metadata.Name))
	b.WriteString(fmt.Sprintf("[::b]Target:[-::-]      %s\n", tview.Escape(run.Spec.Target)))
	b.WriteString(fmt.Sprintf("[::b]Mode:[-::-]        %s (%d rounds)\n", run.Spec.Mode, run.Spec.MaxIterations))
	if run.Spec.Model != "" {
		b.WriteString(fmt.Sprintf("[::b]Model:[-::-]       %s\n", run.Spec.Model))
	}
	b.WriteString(fmt.Sprintf("[::b]Phase:[-::-]       [%s]%s[-]\n", phaseColorName(run.Status.Phase), run.Status.Phase))
	b.WriteString(fmt.Sprintf("[::b]Rounds:[-::-]      %d\n", run.Status.Iterations))
	if run.Status.Error != "" {
		b.WriteString(fmt.Sprintf("[::b]Error:[-::-]       [red]%s[-]\n", tview.Escape(run.Status.Error)))
	}

	if len(run.Status.Invocations) > 0 {
		b.WriteString("\n[::b]Tool invocations[::-]\n")
		for _, inv := range run.Status.Invocations {
			b.WriteString(fmt.Sprintf("  #%d %-9s [%s]%-7s[-] %s %s\n",
				inv.Iteration, inv.ToolName, statusColorName(inv.Status), inv.Status,
				inv.Duration.Round(time.Millisecond), tview.Escape(strings.Join(inv.Argv, " "))))
		}
	}

	b.WriteString("\n[::b]Transcript[::-]\n")
	for _, turn := range run.Status.Turns {
		switch turn.Role {
		case v1alpha1.RoleSystem:
			b.WriteString("\n[gray]── system ──[-]\n")
		case v1alpha1.RoleUser:
			b.WriteString("\n[aqua]── user ──[-]\n")
		case v1alpha1.RoleAssistant:
			b.WriteString("\n[green]── assistant ──[-]\n")
			for _, call := range turn.ToolCalls {
				b.WriteString(fmt.Sprintf("[yellow]→ %s %s[-]\n", call.Name, tview.Escape(call.Arguments)))
			}
		case v1alpha1.RoleTool:
			b.WriteString(fmt.Sprintf("\n[yellow]── tool %s (%s) ──[-]\n", turn.ToolName, turn.ToolCallID))
		}
		if turn.Content != "" {
			b.WriteString(tview.Escape(turn.Content))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Filter
// ---------------------------------------------------------------------------

func (a *App) showFilter() {
	if a.filterOpen {
		return
	}
	a.filterOpen = true
	a.filterInput.SetText(a.currentFilter())

	a.mainFlex.RemoveItem(a.footer)
	a.mainFlex.AddItem(a.filterInput, 1, 0, true)
	a.app.SetFocus(a.filterInput)
}

func (a *App) hideFilter() {
	if !a.filterOpen {
		return
	}
	a.filterOpen = false

	a.mainFlex.RemoveItem(a.filterInput)
	a.mainFlex.AddItem(a.footer, 1, 0, false)
	a.app.SetFocus(a.table)
}

// ---------------------------------------------------------------------------
// Delete with confirmation
// ---------------------------------------------------------------------------

func (a *App) confirmDelete() {
	id, ok := a.selectedID()
	if !ok {
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete run %q?", id)).
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			if buttonLabel == "Delete" {
				a.deleteRun(id)
			}
			a.pages.RemovePage("confirm")
			a.app.SetFocus(a.table)
		})
	modal.SetBackgroundColor(tcell.ColorDarkRed)

	a.pages.AddPage("confirm", modal, true, true)
}

func (a *App) deleteRun(id string) {
	if err := a.source.DeleteRun(id); err != nil {
		a.footer.SetText(fmt.Sprintf(" [red]Delete failed: %v[-]", err))
		go func() {
			time.Sleep(3 * time.Second)
			a.app.QueueUpdateDraw(a.updateFooter)
		}()
		return
	}

	go func() {
		a.refresh()
		a.app.QueueUpdateDraw(a.updateTable)
	}()
}

// ---------------------------------------------------------------------------
// Header & Footer
// ---------------------------------------------------------------------------

func (a *App) updateHeader() {
	a.mu.Lock()
	current := a.currentView
	filter := a.filter
	a.mu.Unlock()

	var parts []string
	for _, v := range views {
		if v.key == current.key {
			parts = append(parts, fmt.Sprintf("[::b]<%s>[%s][::-]", v.key, v.name))
		} else {
			parts = append(parts, fmt.Sprintf("<%s>%s", v.key, v.name))
		}
	}

	filterInfo := ""
	if filter != "" {
		filterInfo = fmt.Sprintf(" | [yellow]filter: %s[-]", tview.Escape(filter))
	}

	a.header.SetText(fmt.Sprintf(" [::b]scout[::-] | %s | %s%s",
		a.label, strings.Join(parts, "  "), filterInfo))
}

func (a *App) updateFooter() {
	a.footer.SetText(" [yellow]<enter>[white]Transcript  [yellow]<d>[white]Delete  [yellow]</>[white]Filter  [yellow]<r>[white]Refresh  [yellow]<q>[white]Quit  [yellow]<esc>[white]Back")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// formatAge returns a human-readable duration string since the given time.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// phaseColor returns the tcell color for a run phase.
func phaseColor(phase v1alpha1.RunPhase) tcell.Color {
	switch phase {
	case v1alpha1.RunCompleted:
		return tcell.ColorGreen
	case v1alpha1.RunRunning:
		return tcell.ColorYellow
	case v1alpha1.RunBudgetExhausted:
		return tcell.ColorOrange
	case v1alpha1.RunAborted:
		return tcell.ColorRed
	default:
		return tcell.ColorWhite
	}
}

// phaseColorName returns the tview color tag name for a run phase.
func phaseColorName(phase v1alpha1.RunPhase) string {
	switch phase {
	case v1alpha1.RunCompleted:
		return "green"
	case v1alpha1.RunRunning:
		return "yellow"
	case v1alpha1.RunBudgetExhausted:
		return "orange"
	case v1alpha1.RunAborted:
		return "red"
	default:
		return "white"
	}
}

func statusColorName(s v1alpha1.ExitStatus) string {
	switch s {
	case v1alpha1.StatusOK:
		return "green"
	case v1alpha1.StatusTimeout:
		return "orange"
	default:
		return "red"
	}
}
