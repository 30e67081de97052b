package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/orogenlabs/terramorph/core"
	"github.com/orogenlabs/terramorph/grid"
)

type staticView struct{}

func (staticView) ErodibilityFactor() float64 { return 1 }

func presetFixture(t *testing.T) (*grid.RasterGrid, *grid.FieldSet) {
	t.Helper()
	g, err := grid.NewRasterGrid(5, 5, 10)
	if err != nil {
		t.Fatalf("NewRasterGrid: %v", err)
	}
	fs := grid.NewFieldSet(g.NodeCount())
	if err := g.AddSyntheticTopography(fs, 0, 1.0, 42); err != nil {
		t.Fatalf("AddSyntheticTopography: %v", err)
	}
	return g, fs
}

func basicParams() core.Params {
	return core.Params{
		"water_erodibility":            0.001,
		"regolith_transport_parameter": 0.01,
	}
}

func TestCatalogNames(t *testing.T) {
	want := []string{"basic", "basic_ch", "basic_dd", "basic_rt", "basic_st", "basic_th"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	for _, name := range want {
		if _, ok := Lookup(name); !ok {
			t.Fatalf("Lookup(%q) missed", name)
		}
	}
}

func TestBasicPresetBuildsOrderedPipeline(t *testing.T) {
	g, fs := presetFixture(t)
	p, ok := Lookup("basic")
	if !ok {
		t.Fatalf("basic preset missing")
	}

	comps, err := p.Build(g, fs, staticView{}, basicParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"flow_accumulator", "stream_power", "linear_diffuser"}
	if len(comps) != len(want) {
		t.Fatalf("built %d components, want %d", len(comps), len(want))
	}
	for i, c := range comps {
		if c.Name() != want[i] {
			t.Fatalf("component %d is %q, want %q", i, c.Name(), want[i])
		}
	}

	initial := []string{grid.FieldTopographicElevation, grid.FieldInitialTopographicElevation}
	if err := core.ValidatePipeline(initial, comps); err != nil {
		t.Fatalf("ValidatePipeline: %v", err)
	}
}

func TestPresetMissingParameterNamesPreset(t *testing.T) {
	g, fs := presetFixture(t)
	p, _ := Lookup("basic")

	_, err := p.Build(g, fs, staticView{}, core.Params{"regolith_transport_parameter": 0.01})
	if !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("Build without erodibility: got %v, want ErrInvalidParameter", err)
	}
	if !strings.Contains(err.Error(), `preset "basic"`) || !strings.Contains(err.Error(), "water_erodibility") {
		t.Fatalf("error %q does not name the preset and parameter", err)
	}
}

func TestExponentFormSatisfiesRequirement(t *testing.T) {
	g, fs := presetFixture(t)
	p, _ := Lookup("basic")

	params := core.Params{
		"water_erodibility_exp":        -3,
		"regolith_transport_parameter": 0.01,
	}
	if _, err := p.Build(g, fs, staticView{}, params); err != nil {
		t.Fatalf("Build with exponent form: %v", err)
	}
}

func TestBasicChUsesTaylorDiffuser(t *testing.T) {
	g, fs := presetFixture(t)
	p, _ := Lookup("basic_ch")

	params := basicParams()
	params["critical_slope"] = 0.8
	comps, err := p.Build(g, fs, staticView{}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := comps[len(comps)-1].Name(); got != "taylor_diffuser" {
		t.Fatalf("last component is %q, want taylor_diffuser", got)
	}
}

func TestBasicRtNeedsContactField(t *testing.T) {
	g, fs := presetFixture(t)
	p, _ := Lookup("basic_rt")

	params := core.Params{
		"water_erodibility_upper":      0.001,
		"water_erodibility_lower":      0.0001,
		"contact_zone__width":          10.0,
		"regolith_transport_parameter": 0.01,
	}
	_, err := p.Build(g, fs, staticView{}, params)
	if !errors.Is(err, grid.ErrUnknownField) {
		t.Fatalf("Build without contact field: got %v, want ErrUnknownField", err)
	}

	if _, err := fs.AddField(grid.FieldLithologyContactElevation, 5); err != nil {
		t.Fatalf("AddField: %v", err)
	}
	if _, err := p.Build(g, fs, staticView{}, params); err != nil {
		t.Fatalf("Build with contact field: %v", err)
	}
}

func TestBasicStForcesStochasticMode(t *testing.T) {
	g, fs := presetFixture(t)
	p, _ := Lookup("basic_st")

	// The shared map says steady, but the preset pins stochastic storms;
	// the constant-rate path would write exactly 5 into rainfall__flux.
	params := basicParams()
	params["mode"] = "steady"
	params["rainfall_rate"] = 5.0
	params["mean_storm__intensity"] = 2.0
	params["intermittency_factor"] = 0.5
	params["seed"] = 7

	comps, err := p.Build(g, fs, staticView{}, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if comps[0].Name() != "precipitator" {
		t.Fatalf("first component is %q, want precipitator", comps[0].Name())
	}
	if err := comps[0].RunOneStep(1); err != nil {
		t.Fatalf("RunOneStep: %v", err)
	}
	rain, err := fs.Field(grid.FieldRainfallFlux)
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if rain[0] == 5.0 {
		t.Fatalf("rainfall__flux = 5.0 exactly, steady mode leaked through the pin")
	}
}
