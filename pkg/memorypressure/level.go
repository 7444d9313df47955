package memorypressure

import (
	"fmt"
	"strings"
)

type Level int32

const (
	LevelNormal = Level(iota)
	LevelWarning
	LevelUrgent
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelUrgent:
		return "urgent"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown_level_%d", int32(l))
	}
}

// IsDegraded reports if inference may continue, but only in degraded mode.
func (l Level) IsDegraded() bool {
	return l == LevelWarning || l == LevelUrgent
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return LevelNormal, nil
	case "warning":
		return LevelWarning, nil
	case "urgent":
		return LevelUrgent, nil
	case "critical":
		return LevelCritical, nil
	}
	return LevelNormal, fmt.Errorf("unknown memory pressure level '%s'", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
