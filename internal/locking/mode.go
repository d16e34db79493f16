package locking

import (
	"fmt"
	"strings"
)

// Mode selects how the coordinator chooses a backend.
type Mode string

// Locking modes.
const (
	// ModeAuto asks the filesystem capability detector.
	ModeAuto Mode = "auto"
	// ModeAdvisory always uses OS advisory locks.
	ModeAdvisory Mode = "advisory"
	// ModeBypass never locks and warns once per process.
	ModeBypass Mode = "bypass"
)

// ParseMode parses a mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeAdvisory, ModeBypass:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want auto, advisory, or bypass)", ErrInvalidMode, s)
	}
}
