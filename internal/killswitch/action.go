package killswitch

import "strings"

// Action is a request to move the kill switch between states.
type Action int

const (
	// ActionCreateHard creates the kill switch profile (menu: hard mode).
	ActionCreateHard Action = iota
	// ActionDisableAll deletes both profiles (menu: soft or disabled mode).
	ActionDisableAll
	// ActionPreConnection opens the narrow exception for a new server.
	ActionPreConnection
	// ActionPostConnection restores the block and drops the exception.
	ActionPostConnection
	// ActionSoftConnection enforces the block for one tunnel session.
	ActionSoftConnection
	// ActionDisable deletes both profiles after a tunnel session.
	ActionDisable
	// ActionDeactivateAll brings both profiles down without deleting them.
	ActionDeactivateAll
)

var actionNames = map[Action]string{
	ActionCreateHard:     "create_hard",
	ActionDisableAll:     "disable_all",
	ActionPreConnection:  "pre_connection",
	ActionPostConnection: "post_connection",
	ActionSoftConnection: "soft_connection",
	ActionDisable:        "disable",
	ActionDeactivateAll:  "deactivate_all",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// IsMenu reports whether the action comes from a mode change rather than
// from a tunnel connection attempt.
func (a Action) IsMenu() bool {
	return a == ActionCreateHard || a == ActionDisableAll
}

// ParseAction resolves an action name. Dashes and underscores are equivalent.
func ParseAction(s string) (Action, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for a, name := range actionNames {
		if name == key {
			return a, nil
		}
	}
	return 0, &UnsupportedActionError{Value: s}
}

// ActionForMode maps a mode selected in the settings menu to the action
// that applies it.
func ActionForMode(m Mode) (Action, error) {
	switch m {
	case ModeHard:
		return ActionCreateHard, nil
	case ModeSoft, ModeDisabled:
		return ActionDisableAll, nil
	default:
		return 0, &UnsupportedActionError{Value: m.String()}
	}
}

// Request is one call into the Orchestrator. ServerAddresses is only read
// by ActionPreConnection; when several are given the last one is used.
type Request struct {
	Action          Action
	ServerAddresses []string
}
