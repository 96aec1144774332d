package config

import (
	"fmt"
	"strings"
	"time"
)

// ResolveTimezone loads the location that decides which calendar day an
// audit row or evidence file belongs to. "" and "Local" mean the host zone.
func ResolveTimezone(name string) (*time.Location, error) {
	switch strings.TrimSpace(name) {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q (want an IANA name such as Europe/Berlin): %w", name, err)
	}
	return loc, nil
}
