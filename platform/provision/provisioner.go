// Package provision applies a composed resource graph: it walks resources in
// dependency order, resolves their deferred values against what has already
// been provisioned, and creates each one through the provider's driver for
// its type. Applying the same topology again reuses what the state store
// recorded, updating resources whose declaration changed.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/topology/observability/tracing"
	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/platform/state"
)

// DefaultLockTTL bounds how long a crashed apply can hold a topology lock.
const DefaultLockTTL = 30 * time.Minute

// Result adopted from an existing provider resource.
const ResultAdopted = "adopted"

// ApplyError reports the resource an apply stopped at.
type ApplyError struct {
	Resource string
	Type     string
	Err      error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s %q: %v", e.Type, e.Resource, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error { return e.Err }

// ResolvedOutput is an exported graph output after apply.
type ResolvedOutput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result describes one apply.
type Result struct {
	RunID     string                     `json:"runId"`
	Topology  string                     `json:"topology"`
	Provider  string                     `json:"provider"`
	Created   []string                   `json:"created,omitempty"`
	Updated   []string                   `json:"updated,omitempty"`
	Reused    []string                   `json:"reused,omitempty"`
	Adopted   []string                   `json:"adopted,omitempty"`
	Resources []*platform.ResourceOutput `json:"resources"`
	Outputs   []ResolvedOutput           `json:"outputs,omitempty"`
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithStateStore sets where resource outputs are persisted. The default is
// an in-memory store.
func WithStateStore(store platform.StateStore) Option {
	return func(p *Provisioner) { p.store = store }
}

// WithSecrets sets the secret source deferred values read from.
func WithSecrets(src SecretSource) Option {
	return func(p *Provisioner) { p.secrets = src }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = logger }
}

// WithMetrics sets the collectors applies are recorded on.
func WithMetrics(m *Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithTracer sets the tracer applies are traced with.
func WithTracer(t *tracing.ApplyTracer) Option {
	return func(p *Provisioner) { p.tracer = t }
}

// WithLockTTL sets the lock TTL used with stores that implement
// platform.Locker.
func WithLockTTL(ttl time.Duration) Option {
	return func(p *Provisioner) { p.lockTTL = ttl }
}

// WithDriftConcurrency sets how many reads a drift check runs at once.
func WithDriftConcurrency(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.driftConcurrency = n
		}
	}
}

// WithReadRate throttles provider reads made by drift checks to r per
// second with the given burst.
func WithReadRate(r float64, burst int) Option {
	return func(p *Provisioner) { p.readLimiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// Provisioner applies graphs through one provider. Applies are sequential;
// concurrent applies of the same topology are serialized by the state
// store's lock when it has one.
type Provisioner struct {
	provider platform.Provider
	store    platform.StateStore
	secrets  SecretSource
	logger   *slog.Logger
	metrics  *Metrics
	tracer   *tracing.ApplyTracer
	lockTTL  time.Duration
	now      func() time.Time

	driftConcurrency int
	readLimiter      *rate.Limiter
}

// New creates a Provisioner for provider.
func New(provider platform.Provider, opts ...Option) (*Provisioner, error) {
	if provider == nil {
		return nil, errors.New("provision: provider must not be nil")
	}
	p := &Provisioner{
		provider: provider,
		logger:   slog.Default(),
		lockTTL:  DefaultLockTTL,
		now:      time.Now,

		driftConcurrency: DefaultDriftConcurrency,
		readLimiter:      rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = state.NewMemoryStore()
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if p.tracer == nil {
		p.tracer = tracing.NewApplyTracer(nil)
	}
	return p, nil
}

// Metrics returns the collectors applies are recorded on.
func (p *Provisioner) Metrics() *Metrics { return p.metrics }

// Apply seals g and provisions every resource in dependency order, then
// resolves the graph's outputs. On failure the partial result is returned
// together with an *ApplyError; resources created before the failure stay
// recorded so that the next apply resumes after them.
func (p *Provisioner) Apply(ctx context.Context, g *platform.Graph) (*Result, error) {
	g.Seal()
	ordered, err := g.Order()
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	topology := g.Name()

	if locker, ok := p.store.(platform.Locker); ok {
		lock, err := locker.Lock(ctx, topology, p.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("provision: %w", err)
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("failed to release topology lock", "topology", topology, "error", err)
			}
		}()
	}

	run := &platform.Run{
		ID:        uuid.NewString(),
		Topology:  topology,
		Provider:  p.provider.Name(),
		Status:    platform.ResourceStatusCreating,
		StartedAt: p.now().UTC(),
	}
	p.recordRun(ctx, run)

	ctx, span := p.tracer.StartApply(ctx, topology, run.Provider, run.ID)
	defer span.End()

	p.logger.Info("apply started", "topology", topology, "provider", run.Provider, "run", run.ID, "resources", len(ordered))
	start := time.Now()
	result := &Result{RunID: run.ID, Topology: topology, Provider: run.Provider}
	resolver := &outputResolver{
		outputs: make(map[string]*platform.ResourceOutput, len(ordered)),
		secrets: p.secrets,
	}

	err = p.applyResources(ctx, topology, ordered, resolver, result)
	if err == nil {
		result.Outputs, err = resolveOutputs(ctx, g.Outputs(), resolver)
	}

	run.Created = len(result.Created) + len(result.Updated)
	run.Reused = len(result.Reused) + len(result.Adopted)
	run.FinishedAt = p.now().UTC()
	run.Status = platform.ResourceStatusActive
	if err != nil {
		run.Status = platform.ResourceStatusFailed
		run.Error = err.Error()
		p.tracer.RecordError(span, err)
	}
	p.recordRun(ctx, run)
	p.metrics.ApplyDuration.WithLabelValues(run.Provider, string(run.Status)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.logger.Error("apply failed", "topology", topology, "run", run.ID, "error", err)
		return result, err
	}
	p.logger.Info("apply finished", "topology", topology, "run", run.ID,
		"created", len(result.Created), "updated", len(result.Updated), "reused", len(result.Reused), "adopted", len(result.Adopted))
	return result, nil
}

func (p *Provisioner) applyResources(ctx context.Context, topology string, ordered []*platform.Resource, resolver *outputResolver, result *Result) error {
	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, outcome, err := p.applyResource(ctx, topology, r, resolver)
		if err != nil {
			return &ApplyError{Resource: r.Name, Type: r.Type, Err: err}
		}
		resolver.outputs[r.Name] = out
		result.Resources = append(result.Resources, out)
		switch outcome {
		case ResultCreated:
			result.Created = append(result.Created, r.Name)
		case ResultUpdated:
			result.Updated = append(result.Updated, r.Name)
		case ResultReused:
			result.Reused = append(result.Reused, r.Name)
		case ResultAdopted:
			result.Adopted = append(result.Adopted, r.Name)
		}
	}
	return nil
}

func (p *Provisioner) applyResource(ctx context.Context, topology string, r *platform.Resource, resolver *outputResolver) (out *platform.ResourceOutput, outcome string, err error) {
	ctx, span := p.tracer.StartResource(ctx, r.Name, r.Type)
	defer func() {
		if err != nil {
			outcome = ResultFailed
			p.tracer.RecordError(span, err)
		} else {
			p.tracer.SetResult(span, outcome)
		}
		p.metrics.ResourcesApplied.WithLabelValues(r.Type, outcome).Inc()
		span.End()
	}()

	digest, err := declarationDigest(r, resolver.outputs)
	if err != nil {
		return nil, "", err
	}

	existing, err := p.store.GetResource(ctx, topology, r.Name)
	var notFound *platform.ResourceNotFoundError
	switch {
	case err == nil && existing.Type != r.Type:
		return nil, "", fmt.Errorf("state records it as %s", existing.Type)
	case err == nil && (existing.Digest == "" || existing.Digest == digest):
		p.logger.Info("resource unchanged", "resource", r.Name, "type", r.Type)
		return existing, ResultReused, nil
	case err != nil && !errors.As(err, &notFound):
		return nil, "", fmt.Errorf("read state: %w", err)
	}

	driver, err := p.provider.ResourceDriver(r.Type)
	if err != nil {
		return nil, "", err
	}

	if existing != nil {
		out, err = p.updateResource(ctx, driver, r, existing, resolver)
		if err != nil {
			return nil, "", err
		}
		outcome = ResultUpdated
	} else {
		outcome = ResultCreated
		if reader, ok := driver.(platform.ResourceReader); ok {
			found, err := reader.Read(ctx, r.Name)
			switch {
			case err == nil:
				out, outcome = found, ResultAdopted
			case !errors.As(err, &notFound):
				return nil, "", fmt.Errorf("read: %w", err)
			}
		}
	}

	if out == nil {
		props, err := platform.ResolveProperties(ctx, r.Properties, resolver)
		if err != nil {
			return nil, "", err
		}
		start := time.Now()
		out, err = driver.Create(ctx, r.Name, props)
		p.metrics.ResourceDuration.WithLabelValues(r.Type).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, "", err
		}
		if out == nil {
			return nil, "", fmt.Errorf("driver %s returned no output", driver.ResourceType())
		}
	}

	out.Name = r.Name
	if out.Type == "" {
		out.Type = r.Type
	}
	if out.Status == "" {
		out.Status = platform.ResourceStatusActive
	}
	if out.LastSynced.IsZero() {
		out.LastSynced = p.now().UTC()
	}
	out.Digest = digest
	if err := p.store.SaveResource(ctx, topology, out); err != nil {
		return nil, "", fmt.Errorf("save state: %w", err)
	}
	p.logger.Info("resource "+outcome, "resource", r.Name, "type", r.Type, "id", out.ID)
	return out, outcome, nil
}

// updateResource changes a recorded resource whose declaration no longer
// matches its digest. Drivers that cannot update fail the apply with a
// *platform.ResourceChangedError.
func (p *Provisioner) updateResource(ctx context.Context, driver platform.ResourceDriver, r *platform.Resource, existing *platform.ResourceOutput, resolver *outputResolver) (*platform.ResourceOutput, error) {
	updater, ok := driver.(platform.ResourceUpdater)
	if !ok {
		return nil, &platform.ResourceChangedError{Resource: r.Name, Type: r.Type}
	}
	props, err := platform.ResolveProperties(ctx, r.Properties, resolver)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := updater.Update(ctx, r.Name, existing, props)
	p.metrics.ResourceDuration.WithLabelValues(r.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("driver %s returned no output", driver.ResourceType())
	}
	out.LastSynced = time.Time{}
	return out, nil
}

func resolveOutputs(ctx context.Context, outputs []platform.Output, r platform.Resolver) ([]ResolvedOutput, error) {
	resolved := make([]ResolvedOutput, 0, len(outputs))
	for _, o := range outputs {
		v, err := o.Value.Resolve(ctx, r)
		if err != nil {
			return resolved, fmt.Errorf("output %q: %w", o.Name, err)
		}
		resolved = append(resolved, ResolvedOutput{Name: o.Name, Value: v})
	}
	return resolved, nil
}

func (p *Provisioner) recordRun(ctx context.Context, run *platform.Run) {
	recorder, ok := p.store.(platform.RunRecorder)
	if !ok {
		return
	}
	if err := recorder.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn("failed to record run", "run", run.ID, "error", err)
	}
}
