package registry

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

// RateLimitConfig caps the request rate against the registry API.
// RequestsPerSecond <= 0 disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// rateLimitedClient waits for a token before every remote call
type rateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c with a token bucket limiter shared by all calls.
// It returns c unchanged when limiting is disabled.
func WithRateLimit(c Client, cfg RateLimitConfig) Client {
	if cfg.RequestsPerSecond <= 0 {
		return c
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &rateLimitedClient{
		inner:   c,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// wait blocks until a token is available. A cancelled wait is a transport
// failure: the call was never issued.
func (r *rateLimitedClient) wait(ctx context.Context, op, name string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return ErrTransport{Operation: op, Repository: name, Err: err}
	}
	return nil
}

// Supports forwards capability discovery to the wrapped client
func (r *rateLimitedClient) Supports(capability Capability) bool {
	return Supports(r.inner, capability)
}

func (r *rateLimitedClient) Exists(ctx context.Context, name string) (bool, error) {
	if err := r.wait(ctx, OpProbe, name); err != nil {
		return false, ErrProbeIndeterminate{Repository: name, Err: err}
	}
	return r.inner.Exists(ctx, name)
}

func (r *rateLimitedClient) Create(ctx context.Context, name string, scan policy.ScanConfiguration) error {
	if err := r.wait(ctx, OpCreate, name); err != nil {
		return err
	}
	return r.inner.Create(ctx, name, scan)
}

func (r *rateLimitedClient) SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error {
	if err := r.wait(ctx, OpSetAccessPolicy, name); err != nil {
		return err
	}
	return r.inner.SetAccessPolicy(ctx, name, p)
}

func (r *rateLimitedClient) SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error {
	if err := r.wait(ctx, OpSetLifecyclePolicy, name); err != nil {
		return err
	}
	return r.inner.SetLifecyclePolicy(ctx, name, p)
}

func (r *rateLimitedClient) SetScanOnPush(ctx context.Context, name string, enabled bool) error {
	sc, ok := r.inner.(ScanConfigurer)
	if !ok {
		return ErrCapabilityUnsupported{Capability: CapabilityScanOnPush}
	}
	if err := r.wait(ctx, OpSetScanOnPush, name); err != nil {
		return err
	}
	return sc.SetScanOnPush(ctx, name, enabled)
}

func (r *rateLimitedClient) GetAccessPolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	if err := r.wait(ctx, OpGetAccessPolicy, name); err != nil {
		return nil, err
	}
	return sr.GetAccessPolicy(ctx, name)
}

func (r *rateLimitedClient) GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	if err := r.wait(ctx, OpGetLifecyclePolicy, name); err != nil {
		return nil, err
	}
	return sr.GetLifecyclePolicy(ctx, name)
}

func (r *rateLimitedClient) GetScanOnPush(ctx context.Context, name string) (bool, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return false, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	if err := r.wait(ctx, OpGetScanOnPush, name); err != nil {
		return false, err
	}
	return sr.GetScanOnPush(ctx, name)
}
