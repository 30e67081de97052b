package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePipelineOrdering(t *testing.T) {
	flow := &stubComponent{
		name:     "flow_accumulator",
		requires: []string{"topographic__elevation"},
		produces: []string{"drainage_area", "surface_water__discharge"},
	}
	eroder := &stubComponent{
		name:     "stream_power",
		requires: []string{"topographic__elevation", "surface_water__discharge"},
		produces: []string{"cumulative_erosion__depth"},
	}
	initial := []string{"topographic__elevation"}

	if err := ValidatePipeline(initial, []Component{flow, eroder}); err != nil {
		t.Fatalf("ValidatePipeline(flow, eroder) = %v, want nil", err)
	}

	// A later producer cannot satisfy an earlier consumer.
	err := ValidatePipeline(initial, []Component{eroder, flow})
	if !errors.Is(err, ErrUnsatisfiedDependency) {
		t.Fatalf("ValidatePipeline(eroder, flow) = %v, want ErrUnsatisfiedDependency", err)
	}
	for _, want := range []string{"stream_power", "surface_water__discharge"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidatePipelineMissingInitialField(t *testing.T) {
	diffuser := &stubComponent{
		name:     "linear_diffuser",
		requires: []string{"topographic__elevation"},
	}
	err := ValidatePipeline(nil, []Component{diffuser})
	if !errors.Is(err, ErrUnsatisfiedDependency) {
		t.Fatalf("ValidatePipeline = %v, want ErrUnsatisfiedDependency", err)
	}
}

func TestValidatePipelineSelfSupplyCounts(t *testing.T) {
	// A component may require a field it also produces only if someone
	// before it (or the initial set) created the field.
	recycler := &stubComponent{
		name:     "recycler",
		requires: []string{"drainage_area"},
		produces: []string{"drainage_area"},
	}
	if err := ValidatePipeline(nil, []Component{recycler}); !errors.Is(err, ErrUnsatisfiedDependency) {
		t.Fatalf("ValidatePipeline = %v, want ErrUnsatisfiedDependency", err)
	}
	if err := ValidatePipeline([]string{"drainage_area"}, []Component{recycler}); err != nil {
		t.Fatalf("ValidatePipeline with initial field = %v, want nil", err)
	}
}

func TestValidatePipelineRejectsConflictingProducers(t *testing.T) {
	initial := []string{"topographic__elevation"}
	first := &stubComponent{
		name:     "flow_accumulator",
		requires: initial,
		produces: []string{"surface_water__discharge"},
	}
	second := &stubComponent{
		name:     "kinematic_router",
		requires: initial,
		produces: []string{"surface_water__discharge"},
	}

	err := ValidatePipeline(initial, []Component{first, second})
	if !errors.Is(err, ErrConflictingProducers) {
		t.Fatalf("ValidatePipeline = %v, want ErrConflictingProducers", err)
	}
	for _, want := range []string{"flow_accumulator", "kinematic_router", "surface_water__discharge"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidatePipelineAllowsSharedAccumulatedField(t *testing.T) {
	// Uplift, diffusion and incision all advance elevation in place; the
	// shared producer is legal because every writer accumulates it.
	elev := []string{"topographic__elevation"}
	uplift := &stubComponent{name: "uplift", requires: elev, produces: elev, accumulates: elev}
	diffuser := &stubComponent{name: "linear_diffuser", requires: elev, produces: elev, accumulates: elev}
	if err := ValidatePipeline(elev, []Component{uplift, diffuser}); err != nil {
		t.Fatalf("ValidatePipeline(uplift, diffuser) = %v, want nil", err)
	}

	// One exclusive writer in the mix makes the share a conflict again.
	setter := &stubComponent{name: "plateau_reset", requires: elev, produces: elev}
	err := ValidatePipeline(elev, []Component{uplift, setter})
	if !errors.Is(err, ErrConflictingProducers) {
		t.Fatalf("ValidatePipeline(uplift, setter) = %v, want ErrConflictingProducers", err)
	}
}
