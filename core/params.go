package core

import (
	"fmt"
	"math"
)

// Params is a component's parameter bag as decoded from run configuration.
// YAML integers arrive as int and floats as float64; the typed getters
// coerce between the two and wrap every violation in ErrInvalidParameter
// with the parameter name.
type Params map[string]any

// Float returns a required numeric parameter.
func (p Params) Float(name string) (float64, error) {
	raw, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q is required", ErrInvalidParameter, name)
	}
	return coerceFloat(name, raw)
}

// FloatDefault returns a numeric parameter, or def when absent.
func (p Params) FloatDefault(name string, def float64) (float64, error) {
	raw, ok := p[name]
	if !ok {
		return def, nil
	}
	return coerceFloat(name, raw)
}

// FloatFromExponent resolves a parameter that may be given either literally
// (name) or as a base-ten exponent (name_exp, meaning 10^value). Supplying
// both forms is an error, as is supplying neither.
func (p Params) FloatFromExponent(name string) (float64, error) {
	expName := name + "_exp"
	_, hasLit := p[name]
	_, hasExp := p[expName]
	switch {
	case hasLit && hasExp:
		return 0, fmt.Errorf("%w: %q and %q are mutually exclusive", ErrInvalidParameter, name, expName)
	case hasExp:
		exp, err := coerceFloat(expName, p[expName])
		if err != nil {
			return 0, err
		}
		return math.Pow(10, exp), nil
	case hasLit:
		return coerceFloat(name, p[name])
	default:
		return 0, fmt.Errorf("%w: %q (or %q) is required", ErrInvalidParameter, name, expName)
	}
}

// FloatFromExponentDefault is FloatFromExponent with a fallback when
// neither form is present.
func (p Params) FloatFromExponentDefault(name string, def float64) (float64, error) {
	if _, ok := p[name]; !ok {
		if _, ok := p[name+"_exp"]; !ok {
			return def, nil
		}
	}
	return p.FloatFromExponent(name)
}

// Int returns a required integer parameter.
func (p Params) Int(name string) (int, error) {
	raw, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q is required", ErrInvalidParameter, name)
	}
	return coerceInt(name, raw)
}

// IntDefault returns an integer parameter, or def when absent.
func (p Params) IntDefault(name string, def int) (int, error) {
	raw, ok := p[name]
	if !ok {
		return def, nil
	}
	return coerceInt(name, raw)
}

// BoolDefault returns a boolean parameter, or def when absent.
func (p Params) BoolDefault(name string, def bool) (bool, error) {
	raw, ok := p[name]
	if !ok {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean, got %T", ErrInvalidParameter, name, raw)
	}
	return v, nil
}

// StringDefault returns a string parameter, or def when absent.
func (p Params) StringDefault(name, def string) (string, error) {
	raw, ok := p[name]
	if !ok {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidParameter, name, raw)
	}
	return v, nil
}

// Uint64Default returns a non-negative integer parameter (seeds), or def
// when absent.
func (p Params) Uint64Default(name string, def uint64) (uint64, error) {
	raw, ok := p[name]
	if !ok {
		return def, nil
	}
	v, err := coerceInt(name, raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %q must be non-negative, got %d", ErrInvalidParameter, name, v)
	}
	return uint64(v), nil
}

func coerceFloat(name string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %q must be numeric, got %T", ErrInvalidParameter, name, raw)
	}
}

func coerceInt(name string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidParameter, name, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %q must be an integer, got %T", ErrInvalidParameter, name, raw)
	}
}
