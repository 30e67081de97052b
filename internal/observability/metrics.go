// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for model runs. Collectors take an injected Registerer so tests and
// ensembles can keep isolated registries.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunCollector bundles the Prometheus metrics a model run emits. It
// implements core.RunMetricsRecorder and output.EmitRecorder so the driver
// and the output manager can record without importing prometheus.
type RunCollector struct {
	gatherer prometheus.Gatherer

	Iterations        prometheus.Counter
	Retries           prometheus.Counter
	Aborts            prometheus.Counter
	OutputsEmitted    prometheus.Counter
	IterationDuration prometheus.Histogram
	ComponentDuration *prometheus.HistogramVec

	SimTime       prometheus.Gauge
	TimestepYears prometheus.Gauge
	MeanElevation prometheus.Gauge
}

// NewRunCollector registers run metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	iterations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terramorph_iterations_total",
		Help: "Completed model iterations.",
	}), "terramorph_iterations_total")
	if err != nil {
		return nil, err
	}
	retries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terramorph_step_retries_total",
		Help: "Iteration attempts re-run with a reduced timestep after numerical instability.",
	}), "terramorph_step_retries_total")
	if err != nil {
		return nil, err
	}
	aborts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terramorph_run_aborts_total",
		Help: "Runs that ended in the aborted state.",
	}), "terramorph_run_aborts_total")
	if err != nil {
		return nil, err
	}
	outputs, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terramorph_outputs_emitted_total",
		Help: "Output emissions completed across all configured writers.",
	}), "terramorph_outputs_emitted_total")
	if err != nil {
		return nil, err
	}

	iterDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terramorph_iteration_duration_seconds",
		Help:    "Wall-clock duration of one model iteration including retries.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "terramorph_iteration_duration_seconds")
	if err != nil {
		return nil, err
	}

	compDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terramorph_component_step_duration_seconds",
		Help:    "Wall-clock duration of a single component step, labeled by component.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"component"})
	compDuration, err = registerHistogramVec(reg, compDuration, "terramorph_component_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terramorph_model_time_years",
		Help: "Current model time in years.",
	}), "terramorph_model_time_years")
	if err != nil {
		return nil, err
	}
	timestep, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terramorph_timestep_years",
		Help: "Timestep of the most recent completed iteration in years.",
	}), "terramorph_timestep_years")
	if err != nil {
		return nil, err
	}
	meanElev, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terramorph_mean_elevation_meters",
		Help: "Mean topographic elevation over core nodes at the last output emission.",
	}), "terramorph_mean_elevation_meters")
	if err != nil {
		return nil, err
	}

	return &RunCollector{
		gatherer:          gatherer,
		Iterations:        iterations,
		Retries:           retries,
		Aborts:            aborts,
		OutputsEmitted:    outputs,
		IterationDuration: iterDuration,
		ComponentDuration: compDuration,
		SimTime:           simTime,
		TimestepYears:     timestep,
		MeanElevation:     meanElev,
	}, nil
}

// ObserveIteration records one completed iteration with its effective
// timestep and wall-clock duration.
func (c *RunCollector) ObserveIteration(dt, seconds float64) {
	if c == nil {
		return
	}
	if c.Iterations != nil {
		c.Iterations.Inc()
	}
	if c.IterationDuration != nil {
		c.IterationDuration.Observe(seconds)
	}
	if c.TimestepYears != nil {
		c.TimestepYears.Set(dt)
	}
}

// ObserveComponentStep records the wall-clock duration of one component step.
func (c *RunCollector) ObserveComponentStep(component string, seconds float64) {
	if c == nil || c.ComponentDuration == nil {
		return
	}
	if component == "" {
		component = "unknown"
	}
	c.ComponentDuration.WithLabelValues(component).Observe(seconds)
}

// AddRetry counts one halved-timestep re-attempt.
func (c *RunCollector) AddRetry() {
	if c == nil || c.Retries == nil {
		return
	}
	c.Retries.Inc()
}

// AddAbort counts one aborted run.
func (c *RunCollector) AddAbort() {
	if c == nil || c.Aborts == nil {
		return
	}
	c.Aborts.Inc()
}

// SetSimTime updates the model-time gauge.
func (c *RunCollector) SetSimTime(t float64) {
	if c == nil || c.SimTime == nil {
		return
	}
	c.SimTime.Set(t)
}

// AddEmittedOutput counts one completed output emission.
func (c *RunCollector) AddEmittedOutput() {
	if c == nil || c.OutputsEmitted == nil {
		return
	}
	c.OutputsEmitted.Inc()
}

// SetMeanElevation updates the mean-elevation gauge.
func (c *RunCollector) SetMeanElevation(m float64) {
	if c == nil || c.MeanElevation == nil {
		return
	}
	c.MeanElevation.Set(m)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RunCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RunCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
