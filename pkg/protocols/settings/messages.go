package settings

import (
	"fmt"
	"strconv"

	"github.com/devbus/devbus-go/pkg/wire"
)

// Protocol versions served and requested.
const (
	MinVersion uint16 = 1
	MaxVersion uint16 = 1
)

// MaxNameLength bounds setting names.
const MaxNameLength = 64

// MaxValueLength bounds the text form of a value.
const MaxValueLength = 256

// Command identifies a settings request.
type Command uint8

const (
	CommandQueryNumSettings Command = iota + 1
	CommandQuerySettings
	CommandQuerySetting
	CommandSetSetting
)

func (c Command) String() string {
	switch c {
	case CommandQueryNumSettings:
		return "QUERY_NUM_SETTINGS"
	case CommandQuerySettings:
		return "QUERY_SETTINGS"
	case CommandQuerySetting:
		return "QUERY_SETTING"
	case CommandSetSetting:
		return "SET_SETTING"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
}

// Type is the type of a setting's value.
type Type uint8

const (
	TypeBool Type = iota
	TypeInt
	TypeUint
	TypeFloat
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeUint:
		return "uint"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType parses the names printed by Type.String.
func ParseType(s string) (Type, error) {
	for t := TypeBool; t <= TypeString; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown setting type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Setting is one named value. Values travel in text form and are checked
// against Type when set.
type Setting struct {
	Name        string `cbor:"1,keyasint" yaml:"name"`
	Type        Type   `cbor:"2,keyasint" yaml:"type"`
	Value       string `cbor:"3,keyasint" yaml:"value"`
	Description string `cbor:"4,keyasint,omitempty" yaml:"description,omitempty"`
}

// Validate checks the name and that Value parses as Type.
func (s Setting) Validate() error {
	if s.Name == "" || len(s.Name) > MaxNameLength {
		return fmt.Errorf("%w: setting name %q", ErrInvalidSetting, s.Name)
	}
	return checkValue(s.Type, s.Value)
}

func checkValue(t Type, v string) error {
	if len(v) > MaxValueLength {
		return fmt.Errorf("%w: value is %d bytes", ErrInvalidValue, len(v))
	}
	var err error
	switch t {
	case TypeBool:
		_, err = strconv.ParseBool(v)
	case TypeInt:
		_, err = strconv.ParseInt(v, 0, 64)
	case TypeUint:
		_, err = strconv.ParseUint(v, 0, 64)
	case TypeFloat:
		_, err = strconv.ParseFloat(v, 64)
	case TypeString:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSetting, t)
	}
	if err != nil {
		return fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, v, t)
	}
	return nil
}

// Request is a settings request.
type Request struct {
	Command Command `cbor:"1,keyasint"`
	Name    string  `cbor:"2,keyasint,omitempty"`
	Value   string  `cbor:"3,keyasint,omitempty"`
}

// Response answers a Request.
type Response struct {
	Command Command     `cbor:"1,keyasint"`
	Result  wire.Result `cbor:"2,keyasint"`
	Count   uint32      `cbor:"3,keyasint,omitempty"`
	Setting *Setting    `cbor:"4,keyasint,omitempty"`

	// Done ends a QuerySettings enumeration.
	Done bool `cbor:"5,keyasint,omitempty"`
}
