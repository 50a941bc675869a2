package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/devbus/devbus-go/pkg/transport"
)

// configSetter applies values while respecting flag precedence: a value
// is only applied when the corresponding flag was not set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	if changed == nil {
		changed = map[string]bool{}
	}
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setKind(flag, value string, dst *transport.Kind) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = transport.Kind(value)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setPrefix sets a router prefix from a pointer so that 0 can be chosen.
func (s *configSetter) setPrefix(flag string, value *uint8, dst *uint8) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

func (s *configSetter) setPrefixFromString(flag, value string, dst *uint8) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	p, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = uint8(p)
	return nil
}

// setBoolFromString parses a boolean environment value.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
