package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// Variables are the client-supplied argument bindings of a start request,
// as decoded from JSON. Numbers therefore arrive as float64 or
// json.Number.
type Variables map[string]interface{}

// Int reads an integral variable.
func (v Variables) Int(name string) (int64, bool) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return 0, false
	}
	return toInt64(raw)
}

// IntList reads a list-of-integers variable. A missing or null variable
// yields an empty list.
func (v Variables) IntList(name string) ([]int64, bool) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return nil, false
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		n, ok := toInt64(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func toInt64(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// Validate checks vars against the definition's argument schema. Unknown
// variables and type mismatches are rejected; missing required arguments
// are rejected.
func (d *Definition) Validate(vars Variables) error {
	byName := make(map[string]Arg, len(d.Args))
	for _, a := range d.Args {
		byName[a.Name] = a
	}
	for name := range vars {
		arg, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown argument %q for %s", name, d.Name)
		}
		if vars[name] == nil {
			continue
		}
		switch arg.Kind {
		case ArgInt:
			if _, ok := vars.Int(name); !ok {
				return fmt.Errorf("argument %q must be %s", name, arg.Kind)
			}
		case ArgIntList:
			if _, ok := vars.IntList(name); !ok {
				return fmt.Errorf("argument %q must be %s", name, arg.Kind)
			}
		}
	}
	for _, a := range d.Args {
		if !a.Required {
			continue
		}
		if raw, ok := vars[a.Name]; !ok || raw == nil {
			return fmt.Errorf("argument %q is required", a.Name)
		}
	}
	return nil
}
