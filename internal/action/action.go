// Package action defines the closed set of UI actions a selector session
// accepts.
package action

import (
	"fmt"
	"strings"
)

// Kind identifies a UI action.
type Kind int

const (
	Toggle Kind = iota + 1
	SelectOption
	Confirm
	Cancel
	Reset
)

var names = map[Kind]string{
	Toggle:       "toggle",
	SelectOption: "select_option",
	Confirm:      "confirm",
	Cancel:       "cancel",
	Reset:        "reset",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Parse maps a wire name to its Kind. Matching ignores case and accepts the
// camelCase spellings host UIs tend to send.
func Parse(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	if key == "selectoption" {
		key = "select_option"
	}
	for k, n := range names {
		if n == key {
			return k, nil
		}
	}
	return 0, fmt.Errorf("action: unknown kind %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := names[k]; !ok {
		return nil, fmt.Errorf("action: invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Action is one request from the host UI.
type Action struct {
	Kind Kind `json:"kind"`
	// Target is the skill ID for Toggle and the option ID for SelectOption.
	Target string `json:"target,omitempty"`
}

// Validate checks that Target is present when the kind needs one.
func (a Action) Validate() error {
	switch a.Kind {
	case Toggle, SelectOption:
		if strings.TrimSpace(a.Target) == "" {
			return fmt.Errorf("action: %s requires a target", a.Kind)
		}
		return nil
	case Confirm, Cancel, Reset:
		return nil
	default:
		return fmt.Errorf("action: invalid kind %d", int(a.Kind))
	}
}

// Result reports how a session handled an action.
type Result struct {
	Kind     Kind     `json:"kind"`
	Target   string   `json:"target,omitempty"`
	OK       bool     `json:"ok"`
	Reason   string   `json:"reason,omitempty"`
	Message  string   `json:"message,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Complete bool     `json:"complete"`
}
