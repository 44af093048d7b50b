package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// retryingClient retries ErrTransport failures with exponential backoff.
// Denials, create races and definitive probe answers are never retried.
type retryingClient struct {
	inner Client
	cfg   RetryConfig
}

// WithRetry wraps c with an exponential backoff retry policy. It returns c
// unchanged when cfg.MaxAttempts <= 1.
func WithRetry(c Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts <= 1 {
		return c
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultRetryInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultRetryMaxInterval
	}
	return &retryingClient{inner: c, cfg: cfg}
}

func (r *retryingClient) do(ctx context.Context, op, name string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("operation", op).
			Str("repository", name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Registry operation failed, retrying")
	})
}

func isRetryable(err error) bool {
	var transport ErrTransport
	if !errors.As(err, &transport) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Supports forwards capability discovery to the wrapped client
func (r *retryingClient) Supports(capability Capability) bool {
	return Supports(r.inner, capability)
}

func (r *retryingClient) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.do(ctx, OpProbe, name, func() error {
		var err error
		exists, err = r.inner.Exists(ctx, name)
		return err
	})
	return exists, err
}

func (r *retryingClient) Create(ctx context.Context, name string, scan policy.ScanConfiguration) error {
	return r.do(ctx, OpCreate, name, func() error {
		return r.inner.Create(ctx, name, scan)
	})
}

func (r *retryingClient) SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error {
	return r.do(ctx, OpSetAccessPolicy, name, func() error {
		return r.inner.SetAccessPolicy(ctx, name, p)
	})
}

func (r *retryingClient) SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error {
	return r.do(ctx, OpSetLifecyclePolicy, name, func() error {
		return r.inner.SetLifecyclePolicy(ctx, name, p)
	})
}

func (r *retryingClient) SetScanOnPush(ctx context.Context, name string, enabled bool) error {
	sc, ok := r.inner.(ScanConfigurer)
	if !ok {
		return ErrCapabilityUnsupported{Capability: CapabilityScanOnPush}
	}
	return r.do(ctx, OpSetScanOnPush, name, func() error {
		return sc.SetScanOnPush(ctx, name, enabled)
	})
}

func (r *retryingClient) GetAccessPolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var doc []byte
	err := r.do(ctx, OpGetAccessPolicy, name, func() error {
		var err error
		doc, err = sr.GetAccessPolicy(ctx, name)
		return err
	})
	return doc, err
}

func (r *retryingClient) GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return nil, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var doc []byte
	err := r.do(ctx, OpGetLifecyclePolicy, name, func() error {
		var err error
		doc, err = sr.GetLifecyclePolicy(ctx, name)
		return err
	})
	return doc, err
}

func (r *retryingClient) GetScanOnPush(ctx context.Context, name string) (bool, error) {
	sr, ok := r.inner.(StateReader)
	if !ok {
		return false, ErrCapabilityUnsupported{Capability: CapabilityStateReader}
	}
	var enabled bool
	err := r.do(ctx, OpGetScanOnPush, name, func() error {
		var err error
		enabled, err = sr.GetScanOnPush(ctx, name)
		return err
	})
	return enabled, err
}
