package coordinator

import (
	"fmt"
	"strconv"
	"strings"

	"quicktimerd/internal/actions"
)

func validate(p Params) error {
	if strings.TrimSpace(p.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidParams)
	}
	if !strings.Contains(p.EntityID, ".") {
		return fmt.Errorf("%w: entity_id %q is not domain.object", ErrInvalidParams, p.EntityID)
	}
	if !actions.IsValid(p.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidParams, p.Action)
	}
	if p.Delay < minDelay || p.Delay > maxDelay {
		return fmt.Errorf("%w: delay %d out of range [%d,%d]", ErrInvalidParams, p.Delay, minDelay, maxDelay)
	}
	switch p.Unit {
	case "seconds", "minutes", "hours":
	default:
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidParams, p.Unit)
	}
	switch p.TimeMode {
	case TimeModeRelative, TimeModeAbsolute:
	default:
		return fmt.Errorf("%w: unknown time_mode %q", ErrInvalidParams, p.TimeMode)
	}
	if p.TimeMode == TimeModeAbsolute && p.AtTime != "" {
		if _, _, err := parseHHMM(p.AtTime); err != nil {
			return err
		}
	}
	return nil
}

// parseHHMM parses a wall-clock "HH:MM" string.
func parseHHMM(s string) (hours, minutes int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: at_time %q is not HH:MM", ErrInvalidParams, s)
	}
	hours, err = strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, 0, fmt.Errorf("%w: at_time %q has invalid hour", ErrInvalidParams, s)
	}
	minutes, err = strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, 0, fmt.Errorf("%w: at_time %q has invalid minute", ErrInvalidParams, s)
	}
	return hours, minutes, nil
}

func toSeconds(delay int, unit string) int {
	switch unit {
	case "seconds":
		return delay
	case "hours":
		return delay * 3600
	default:
		return delay * 60
	}
}

func formatDelay(delay int, unit string) string {
	switch unit {
	case "seconds":
		return fmt.Sprintf("%d seconds", delay)
	case "hours":
		return fmt.Sprintf("%d hours", delay)
	default:
		return fmt.Sprintf("%d minutes", delay)
	}
}
