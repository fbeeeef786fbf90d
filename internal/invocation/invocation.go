// Package invocation turns the positional command line arguments into an
// action and the fields that action needs.
package invocation

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Action is what a single run of computectl does.
type Action int

const (
	ActionAdd Action = iota + 1
	ActionRun
	ActionExec
	ActionDestroy
	ActionListNodes
	ActionListImages
)

var actionNames = map[Action]string{
	ActionAdd:        "ADD",
	ActionRun:        "RUN",
	ActionExec:       "EXEC",
	ActionDestroy:    "DESTROY",
	ActionListNodes:  "LISTNODES",
	ActionListImages: "LISTIMAGES",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// NeedsLogin reports whether the action talks to nodes over SSH or
// installs the local login on them.
func (a Action) NeedsLogin() bool {
	return a == ActionAdd || a == ActionExec || a == ActionRun
}

// ParseAction reads an action keyword, ignoring case.
func ParseAction(s string) (Action, error) {
	key := strings.ToUpper(s)
	if key == "REMOVE" {
		return ActionDestroy, nil
	}
	for a, name := range actionNames {
		if name == key {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrUsage, s)
}

// ErrUsage is wrapped by every argument error.
var ErrUsage = errors.New("invalid arguments")

// Invocation is a parsed command line. Only the fields of the chosen
// action are set.
type Invocation struct {
	Action   Action
	Group    string
	Command  string
	FilePath string
	NodeID   string
}

// Parse reads the action and its arguments. Arguments past the ones the
// action uses are ignored.
func Parse(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, fmt.Errorf("%w: no action given", ErrUsage)
	}

	action, err := ParseAction(args[0])
	if err != nil {
		return Invocation{}, err
	}
	inv := Invocation{Action: action}

	arg := func(i int, name string) (string, error) {
		if i >= len(args) {
			return "", fmt.Errorf("%w: %s requires %s", ErrUsage, strings.ToLower(action.String()), name)
		}
		return args[i], nil
	}

	switch action {
	case ActionAdd:
		inv.Group, err = arg(1, "a group")
	case ActionExec:
		if inv.Group, err = arg(1, "a group"); err == nil {
			inv.Command, err = arg(2, "a command")
		}
	case ActionRun:
		if inv.Group, err = arg(1, "a group"); err == nil {
			inv.FilePath, err = arg(2, "a file")
		}
	case ActionDestroy:
		if inv.Group, err = arg(1, "a group"); err == nil {
			inv.NodeID, err = arg(2, "a node id")
		}
	}
	if err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// Examples are printed below the option summary in the usage text.
var Examples = []string{
	"listnodes",
	"listimages",
	"add mygroup",
	"remove mygroup nodeid",
	"exec mygroup mycommand",
	"run mygroup myfile",
}

// PrintExamples writes the examples block for the program name.
func PrintExamples(w io.Writer, program string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	for _, e := range Examples {
		fmt.Fprintf(w, "  %s [options] %s\n", program, e)
	}
}
