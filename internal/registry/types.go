package registry

import (
	"context"
	"time"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

// Config contains registry-specific configuration
type Config struct {
	Type      string // ecr, memory, artifact-registry, harbor, acr
	Region    string // e.g., eu-west-1
	Endpoint  string // optional endpoint override, opaque to the reconciler
	Retry     RetryConfig
	RateLimit RateLimitConfig
}

// RetryConfig configures the optional retry wrapper. MaxAttempts <= 1
// disables retries.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Remote operation names, used in errors, logs and metrics
const (
	OpProbe              = "probe"
	OpCreate             = "create"
	OpSetAccessPolicy    = "set_access_policy"
	OpSetLifecyclePolicy = "set_lifecycle_policy"
	OpSetScanOnPush      = "set_scan_on_push"
	OpGetAccessPolicy    = "get_access_policy"
	OpGetLifecyclePolicy = "get_lifecycle_policy"
	OpGetScanOnPush      = "get_scan_on_push"
)

// Client handles the repository operations the reconciler needs.
// Implementations translate remote failures into the typed errors of this
// package and carry no policy logic.
type Client interface {
	// Exists reports whether the repository exists. Any failure other than a
	// definitive not-found is returned as ErrProbeIndeterminate.
	Exists(ctx context.Context, name string) (bool, error)

	// Create creates the repository. A concurrent creation is reported as
	// ErrAlreadyExists.
	Create(ctx context.Context, name string, scan policy.ScanConfiguration) error

	// SetAccessPolicy replaces the repository access policy
	SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error

	// SetLifecyclePolicy replaces the repository lifecycle policy. An empty
	// policy clears any existing one.
	SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error
}

// ScanConfigurer is implemented by clients that can change scan-on-push on an
// existing repository
type ScanConfigurer interface {
	SetScanOnPush(ctx context.Context, name string, enabled bool) error
}

// StateReader is implemented by clients that can read back the current
// repository configuration. Absent documents are returned as nil.
type StateReader interface {
	GetAccessPolicy(ctx context.Context, name string) ([]byte, error)
	GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error)
	GetScanOnPush(ctx context.Context, name string) (bool, error)
}

// Capability names an optional client interface
type Capability string

const (
	CapabilityScanOnPush  Capability = "scan-on-push"
	CapabilityStateReader Capability = "state-reader"
)

// capabilityReporter is implemented by wrappers that forward optional
// interfaces only when the wrapped client has them
type capabilityReporter interface {
	Supports(capability Capability) bool
}

// Supports reports whether c provides the optional capability
func Supports(c Client, capability Capability) bool {
	if r, ok := c.(capabilityReporter); ok {
		return r.Supports(capability)
	}
	switch capability {
	case CapabilityScanOnPush:
		_, ok := c.(ScanConfigurer)
		return ok
	case CapabilityStateReader:
		_, ok := c.(StateReader)
		return ok
	default:
		return false
	}
}
