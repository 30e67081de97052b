package core

import (
	"errors"
	"math"
	"testing"
)

func TestParamsFloat(t *testing.T) {
	p := Params{"rate": 0.001, "count": 3, "label": "x"}

	if v, err := p.Float("rate"); err != nil || v != 0.001 {
		t.Fatalf("Float(rate) = %v, %v, want 0.001, nil", v, err)
	}
	// YAML hands whole numbers to the bag as int.
	if v, err := p.Float("count"); err != nil || v != 3 {
		t.Fatalf("Float(count) = %v, %v, want 3, nil", v, err)
	}
	if _, err := p.Float("missing"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("Float(missing) = %v, want ErrInvalidParameter", err)
	}
	if _, err := p.Float("label"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("Float(label) = %v, want ErrInvalidParameter", err)
	}
	if v, err := p.FloatDefault("missing", 2.5); err != nil || v != 2.5 {
		t.Fatalf("FloatDefault(missing) = %v, %v, want 2.5, nil", v, err)
	}
}

func TestParamsFloatFromExponent(t *testing.T) {
	if v, err := (Params{"water_erodibility": 0.001}).FloatFromExponent("water_erodibility"); err != nil || v != 0.001 {
		t.Fatalf("literal form = %v, %v, want 0.001, nil", v, err)
	}
	v, err := (Params{"water_erodibility_exp": -3.0}).FloatFromExponent("water_erodibility")
	if err != nil || math.Abs(v-0.001) > 1e-15 {
		t.Fatalf("exponent form = %v, %v, want 0.001, nil", v, err)
	}
	_, err = (Params{"water_erodibility": 0.001, "water_erodibility_exp": -3.0}).FloatFromExponent("water_erodibility")
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("both forms = %v, want ErrInvalidParameter", err)
	}
	if _, err := (Params{}).FloatFromExponent("water_erodibility"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("neither form = %v, want ErrInvalidParameter", err)
	}
	if v, err := (Params{}).FloatFromExponentDefault("water_erodibility", 0.01); err != nil || v != 0.01 {
		t.Fatalf("default form = %v, %v, want 0.01, nil", v, err)
	}
}

func TestParamsInt(t *testing.T) {
	p := Params{"rows": 4, "narrow": 4.0, "broken": 4.5}

	if v, err := p.Int("rows"); err != nil || v != 4 {
		t.Fatalf("Int(rows) = %v, %v, want 4, nil", v, err)
	}
	// Whole floats coerce; fractional ones are refused.
	if v, err := p.Int("narrow"); err != nil || v != 4 {
		t.Fatalf("Int(narrow) = %v, %v, want 4, nil", v, err)
	}
	if _, err := p.Int("broken"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("Int(broken) = %v, want ErrInvalidParameter", err)
	}
	if v, err := p.IntDefault("missing", 7); err != nil || v != 7 {
		t.Fatalf("IntDefault(missing) = %v, %v, want 7, nil", v, err)
	}
}

func TestParamsBoolStringSeed(t *testing.T) {
	p := Params{"on": true, "name": "steady", "seed": 42, "bad_seed": -1}

	if v, err := p.BoolDefault("on", false); err != nil || v != true {
		t.Fatalf("BoolDefault(on) = %v, %v, want true, nil", v, err)
	}
	if v, err := p.BoolDefault("missing", true); err != nil || v != true {
		t.Fatalf("BoolDefault(missing) = %v, %v, want true, nil", v, err)
	}
	if _, err := p.BoolDefault("name", false); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("BoolDefault(name) = %v, want ErrInvalidParameter", err)
	}
	if v, err := p.StringDefault("name", ""); err != nil || v != "steady" {
		t.Fatalf("StringDefault(name) = %q, %v, want steady, nil", v, err)
	}
	if v, err := p.Uint64Default("seed", 0); err != nil || v != 42 {
		t.Fatalf("Uint64Default(seed) = %v, %v, want 42, nil", v, err)
	}
	if _, err := p.Uint64Default("bad_seed", 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("Uint64Default(bad_seed) = %v, want ErrInvalidParameter", err)
	}
}
