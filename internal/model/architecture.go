package model

import (
	"fmt"
	"strings"
)

// Architecture selects one of the supported capsule networks.
type Architecture int

const (
	// NIPS2017 is the dynamic-routing network of "Dynamic Routing Between Capsules".
	NIPS2017 Architecture = iota
	// ICLR2018 is the EM-routing network of "Matrix Capsules with EM Routing".
	ICLR2018
)

var architectureNames = map[Architecture]string{
	NIPS2017: "NIPS2017",
	ICLR2018: "ICLR2018",
}

// ParseArchitecture returns the architecture with the given name (case-insensitive).
func ParseArchitecture(name string) (Architecture, error) {
	for arch, n := range architectureNames {
		if strings.EqualFold(n, name) {
			return arch, nil
		}
	}
	return 0, fmt.Errorf("unknown architecture %q (want NIPS2017 or ICLR2018)", name)
}

func (a Architecture) String() string {
	if n, ok := architectureNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// UsesSchedule reports whether the forward pass and loss consume Schedule.
func (a Architecture) UsesSchedule() bool {
	return a == ICLR2018
}

// MarshalText implements encoding.TextMarshaler.
func (a Architecture) MarshalText() ([]byte, error) {
	if _, ok := architectureNames[a]; !ok {
		return nil, fmt.Errorf("invalid architecture %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Architecture) UnmarshalText(text []byte) error {
	arch, err := ParseArchitecture(string(text))
	if err != nil {
		return err
	}
	*a = arch
	return nil
}
