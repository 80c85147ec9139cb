package batch

import (
	"fmt"
	"strings"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

// Action is an operator command applied to each selected item.
type Action string

const (
	Start     Action = "start"
	Stop      Action = "stop"
	Restart   Action = "restart"
	Run       Action = "run"
	Enable    Action = "enable"
	Disable   Action = "disable"
	Delete    Action = "delete"
	Terminate Action = "terminate"
)

// ParseAction accepts an action name or one of its aliases.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return Start, true
	case "stop":
		return Stop, true
	case "restart":
		return Restart, true
	case "run":
		return Run, true
	case "enable":
		return Enable, true
	case "disable":
		return Disable, true
	case "delete", "remove":
		return Delete, true
	case "terminate", "kill", "end":
		return Terminate, true
	}
	return "", false
}

type verbForms struct {
	imperative  string // "Start"
	progressive string // "Starting"
	past        string // "Started"
	gerund      string // "starting", used in error lines
}

var verbs = map[Action]verbForms{
	Start:     {"Start", "Starting", "Started", "starting"},
	Stop:      {"Stop", "Stopping", "Stopped", "stopping"},
	Restart:   {"Restart", "Restarting", "Restarted", "restarting"},
	Run:       {"Run", "Running", "Started", "running"},
	Enable:    {"Enable", "Enabling", "Enabled", "enabling"},
	Disable:   {"Disable", "Disabling", "Disabled", "disabling"},
	Delete:    {"Delete", "Deleting", "Deleted", "deleting"},
	Terminate: {"End", "Ending", "Ended", "ending"},
}

func (a Action) forms() verbForms {
	if v, ok := verbs[a]; ok {
		return v
	}
	s := string(a)
	return verbForms{imperative: s, progressive: s, past: s, gerund: s}
}

// Title is the capitalised verb, e.g. "Restart" or "End".
func (a Action) Title() string { return a.forms().imperative }

// allowed lists the actions each category supports, in menu order.
var allowed = map[inventory.Category][]Action{
	inventory.Services:  {Start, Stop, Restart},
	inventory.Tasks:     {Run, Stop, Enable, Disable, Delete},
	inventory.Processes: {Terminate},
}

// ActionsFor returns the actions supported by a category.
func ActionsFor(c inventory.Category) []Action {
	return append([]Action(nil), allowed[c]...)
}

// Supports reports whether a can be applied to category c.
func Supports(c inventory.Category, a Action) bool {
	for _, x := range allowed[c] {
		if x == a {
			return true
		}
	}
	return false
}

// Severity grades how strongly a prompt should warn.
type Severity string

const (
	SeverityQuestion Severity = "question"
	SeverityWarning  Severity = "warning"
	SeverityDanger   Severity = "danger"
)

// Prompt is the confirmation shown before a batch touches anything.
type Prompt struct {
	Title    string
	Message  string
	Severity Severity
}

// PromptFor builds the confirmation for n items. Delete gets the strongest
// wording; terminate warns about data loss.
func PromptFor(c inventory.Category, a Action, n int) Prompt {
	switch {
	case a == Delete:
		return Prompt{
			Title:    "Confirm Delete",
			Message:  fmt.Sprintf("DELETE %d %s?\n\nThis action cannot be undone!", n, c.Noun()),
			Severity: SeverityDanger,
		}
	case a == Terminate:
		return Prompt{
			Title:    "Confirm",
			Message:  fmt.Sprintf("End %d %s?\n\nWarning: This may cause data loss!", n, c.Noun()),
			Severity: SeverityWarning,
		}
	}
	return Prompt{
		Title:    "Confirm",
		Message:  fmt.Sprintf("%s %d %s?", a.forms().imperative, n, c.Noun()),
		Severity: SeverityQuestion,
	}
}

// NoSelectionMessage is the informational line for an empty selection.
func NoSelectionMessage(c inventory.Category) string {
	return fmt.Sprintf("Please select at least one %s.", c.Singular())
}
