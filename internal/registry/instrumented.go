package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/repo-provisioner/internal/observability"
	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

// instrumentedClient records a metric sample, a span and a debug log line
// for every registry call
type instrumentedClient struct {
	inner   Client
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Instrument wraps c with metrics and tracing. Either may be nil.
func Instrument(c Client, metrics *observability.Metrics, tracer *observability.Tracer) Client {
	if metrics == nil && tracer == nil {
		return c
	}
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &instrumentedClient{inner: c, metrics: metrics, tracer: tracer}
}

func (i *instrumentedClient) observe(ctx context.Context, op, name string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.StartSpan(ctx, "registry."+op)
	defer span.End()
	i.tracer.SetAttributes(ctx,
		observability.AttrRepositoryName.String(name),
		observability.AttrOperation.String(op),
	)

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		i.tracer.RecordError(ctx, err)
	}
	if i.metrics != nil {
		i.metrics.RecordRemoteOperation(op, status, elapsed.Seconds())
	}

	log.Debug().
		Str("operation", op).
		Str("repository", name).
		Str("status", status).
		Dur("duration", elapsed).
		Msg("Registry call finished")

	return err
}

// Supports forwards capability discovery to the wrapped client
func (i *instrumentedClient) Supports(capability Capability) bool {
	return Supports(i.inner, capability)
}

func (i *instrumentedClient) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := i.observe(ctx, OpProbe, name, func(ctx context.Context) error {
		var err error
		exists, err = i.inner.Exists(ctx, name)
		return err
	})
	return exists, err
}

func (i *instrumentedClient) Create(ctx context.Context, name string, scan policy.ScanConfiguration) error {
	return i.observe(ctx, OpCreate, name, func(ctx context.Context) error {
		return i.inner.Create(ctx, name, scan)
	})
}

func (i *instrumentedClient) SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error {
	return i.observe(ctx, OpSetAccessPolicy, name, func(ctx context.Context) error {
		return i.inner.SetAccessPolicy(ctx, name, p)
	})
}

func (i *instrumentedClient) SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error {
	return i.observe(ctx, OpSetLifecyclePolicy, name, func(ctx context.Context) error {
		return i.inner.SetLifecyclePolicy(ctx, name, p)
	})
}

func (i *instrumentedClient) SetScanOnPush(ctx context.Context, name string, enabled bool) error {
	sc, ok := i.inner.(ScanConfigurer)
	if !ok {
		return ErrCapabilityUnsupported{Capability: CapabilityScanOnPush}
	}
	return i.observe(ctx, OpSetScanOnPush, name, func(ctx context.Context) error {
		return sc.SetScanOnPush(ctx, name, enabled)
	})
}

func (i *instrumentedClient) GetAccessPolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := i.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var doc []byte
	err := i.observe(ctx, OpGetAccessPolicy, name, func(ctx context.Context) error {
		var err error
		doc, err = sr.GetAccessPolicy(ctx, name)
		return err
	})
	return doc, err
}

func (i *instrumentedClient) GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := i.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var doc []byte
	err := i.observe(ctx, OpGetLifecyclePolicy, name, func(ctx context.Context) error {
		var err error
		doc, err = sr.GetLifecyclePolicy(ctx, name)
		return err
	})
	return doc, err
}

func (i *instrumentedClient) GetScanOnPush(ctx context.Context, name string) (bool, error) {
	sr, ok := i.inner.(StateReader)
	if !ok {
		return false, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var enabled bool
	err := i.observe(ctx, OpGetScanOnPush, name, func(ctx context.Context) error {
		var err error
		enabled, err = sr.GetScanOnPush(ctx, name)
		return err
	})
	return enabled, err
}
