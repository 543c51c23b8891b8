package control

import (
	"fmt"
	"strconv"
	"strings"
)

// Override is an operator command delivered to the plant when the batch
// reaches Minute. Command uses the plant's wire form, e.g. "set_temp:750".
type Override struct {
	Minute  int    `json:"minute"`
	Command string `json:"command"`
}

func (o Override) String() string {
	return fmt.Sprintf("%d=%s", o.Minute, o.Command)
}

// ParseOverride parses "MINUTE=COMMAND". Only the minute is checked here;
// the plant decides whether it understands the command.
func ParseOverride(s string) (Override, error) {
	minute, cmd, ok := strings.Cut(s, "=")
	if !ok {
		return Override{}, fmt.Errorf("override %q: want MINUTE=COMMAND", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(minute))
	if err != nil || m < 0 {
		return Override{}, fmt.Errorf("override %q: minute must be a non-negative integer", s)
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Override{}, fmt.Errorf("override %q: empty command", s)
	}
	return Override{Minute: m, Command: cmd}, nil
}
