package registry

import (
	"context"
	"fmt"
)

// RegistryType defines the type of container registry
type RegistryType string

const (
	RegistryTypeECR         RegistryType = "ecr"
	RegistryTypeMemory      RegistryType = "memory"
	RegistryTypeGCPArtifact RegistryType = "artifact-registry"
	RegistryTypeHarbor      RegistryType = "harbor"
	RegistryTypeACR         RegistryType = "acr"
)

// ClientFactory creates registry clients based on configuration
type ClientFactory struct{}

// NewClientFactory creates a new registry client factory
func NewClientFactory() *ClientFactory {
	return &ClientFactory{}
}

// CreateClient creates a registry client based on configuration. The
// returned client is rate limited and retried when cfg enables them.
func (f *ClientFactory) CreateClient(ctx context.Context, cfg Config) (Client, error) {
	registryType := RegistryType(cfg.Type)

	var (
		c   Client
		err error
	)
	switch registryType {
	case RegistryTypeECR:
		c, err = NewECRClient(ctx, cfg)
	case RegistryTypeMemory:
		c = NewMemoryClient()
	case RegistryTypeGCPArtifact, RegistryTypeHarbor, RegistryTypeACR:
		return nil, ErrRegistryNotImplemented{Type: registryType}
	default:
		return nil, ErrUnknownRegistry{Type: registryType}
	}
	if err != nil {
		return nil, err
	}

	return WithRetry(WithRateLimit(c, cfg.RateLimit), cfg.Retry), nil
}

// ErrRegistryNotImplemented is returned when a registry type is not yet implemented
type ErrRegistryNotImplemented struct {
	Type RegistryType
}

func (e ErrRegistryNotImplemented) Error() string {
	return "registry not implemented: " + string(e.Type)
}

// ErrUnknownRegistry is returned when an unknown registry type is requested
type ErrUnknownRegistry struct {
	Type RegistryType
}

func (e ErrUnknownRegistry) Error() string {
	return "unknown registry type: " + string(e.Type)
}

// ErrProbeIndeterminate is returned when repository existence could not be
// determined. It must never be treated as "absent".
type ErrProbeIndeterminate struct {
	Repository string
	Err        error
}

func (e ErrProbeIndeterminate) Error() string {
	return fmt.Sprintf("could not determine whether repository %s exists: %v", e.Repository, e.Err)
}

func (e ErrProbeIndeterminate) Unwrap() error {
	return e.Err
}

// ErrAlreadyExists is returned by Create when the repository appeared after
// the probe
type ErrAlreadyExists struct {
	Repository string
}

func (e ErrAlreadyExists) Error() string {
	return "repository already exists: " + e.Repository
}

// ErrDenied is returned when the registry refused an operation for
// permission or credential reasons
type ErrDenied struct {
	Operation  string
	Repository string
	Err        error
}

func (e ErrDenied) Error() string {
	return fmt.Sprintf("%s denied for repository %s: %v", e.Operation, e.Repository, e.Err)
}

func (e ErrDenied) Unwrap() error {
	return e.Err
}

// ErrTransport is returned when a remote call failed for infrastructure
// reasons (network, throttling, service errors)
type ErrTransport struct {
	Operation  string
	Repository string
	Err        error
}

func (e ErrTransport) Error() string {
	return fmt.Sprintf("%s failed for repository %s: %v", e.Operation, e.Repository, e.Err)
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

// ErrCapabilityUnsupported is returned when a requested option has no
// corresponding client capability
type ErrCapabilityUnsupported struct {
	Capability Capability
	Reason     string
}

func (e ErrCapabilityUnsupported) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("registry client does not support %s: %s", e.Capability, e.Reason)
	}
	return fmt.Sprintf("registry client does not support %s", e.Capability)
}
