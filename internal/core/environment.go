package core

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownEnvironment = errors.New("unknown environment")

// Environment selects logging defaults of the binaries
type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(s))); env {
	case DevelopmentEnv, ProductionEnv:
		return env, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
