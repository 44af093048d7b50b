package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

var errRepositoryNotFound = errors.New("repository not found")

type memoryRepository struct {
	scanOnPush      bool
	accessPolicy    []byte
	lifecyclePolicy []byte
}

// MemoryClient is an in-process registry. It backs the "memory" registry
// type used for dry runs and is the registry double in tests. Failures can
// be injected per operation.
type MemoryClient struct {
	mu     sync.Mutex
	repos  map[string]*memoryRepository
	faults map[string]error
	races  map[string]bool
	calls  map[string]int
}

// NewMemoryClient creates an empty in-memory registry
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		repos:  make(map[string]*memoryRepository),
		faults: make(map[string]error),
		races:  make(map[string]bool),
		calls:  make(map[string]int),
	}
}

// Seed creates a repository directly, bypassing Create
func (m *MemoryClient) Seed(name string, scanOnPush bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[name] = &memoryRepository{scanOnPush: scanOnPush}
}

// FailOn makes every subsequent call of op return err. A nil err clears the fault.
func (m *MemoryClient) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// SimulateCreateRace makes the next Create of name behave as if another
// writer created the repository between probe and create
func (m *MemoryClient) SimulateCreateRace(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.races[name] = true
}

// Calls returns how many times op has been invoked
func (m *MemoryClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ResetCalls clears the call counters
func (m *MemoryClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// Snapshot returns the stored documents of a repository
func (m *MemoryClient) Snapshot(name string) (access, lifecycle []byte, scanOnPush, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[name]
	if !ok {
		return nil, nil, false, false
	}
	return clone(repo.accessPolicy), clone(repo.lifecyclePolicy), repo.scanOnPush, true
}

// begin records the call and returns the injected fault, if any.
// Callers must hold m.mu.
func (m *MemoryClient) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return ErrTransport{Operation: op, Err: err}
	}
	return m.faults[op]
}

func (m *MemoryClient) lookup(op, name string) (*memoryRepository, error) {
	repo, ok := m.repos[name]
	if !ok {
		return nil, ErrTransport{Operation: op, Repository: name, Err: errRepositoryNotFound}
	}
	return repo, nil
}

// Exists implements Client
func (m *MemoryClient) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpProbe); err != nil {
		return false, ErrProbeIndeterminate{Repository: name, Err: err}
	}
	_, ok := m.repos[name]
	return ok, nil
}

// Create implements Client
func (m *MemoryClient) Create(ctx context.Context, name string, scan policy.ScanConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpCreate); err != nil {
		return err
	}
	if m.races[name] {
		delete(m.races, name)
		m.repos[name] = &memoryRepository{}
		return ErrAlreadyExists{Repository: name}
	}
	if _, ok := m.repos[name]; ok {
		return ErrAlreadyExists{Repository: name}
	}
	m.repos[name] = &memoryRepository{scanOnPush: scan.ScanOnPush}
	return nil
}

// SetAccessPolicy implements Client
func (m *MemoryClient) SetAccessPolicy(ctx context.Context, name string, p policy.AccessPolicy) error {
	doc, err := p.Render()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpSetAccessPolicy); err != nil {
		return err
	}
	repo, err := m.lookup(OpSetAccessPolicy, name)
	if err != nil {
		return err
	}
	repo.accessPolicy = doc
	return nil
}

// SetLifecyclePolicy implements Client. An empty policy removes the stored one.
func (m *MemoryClient) SetLifecyclePolicy(ctx context.Context, name string, p policy.LifecyclePolicy) error {
	var doc []byte
	if !p.IsEmpty() {
		var err error
		if doc, err = p.Render(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpSetLifecyclePolicy); err != nil {
		return err
	}
	repo, err := m.lookup(OpSetLifecyclePolicy, name)
	if err != nil {
		return err
	}
	repo.lifecyclePolicy = doc
	return nil
}

// SetScanOnPush implements ScanConfigurer
func (m *MemoryClient) SetScanOnPush(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpSetScanOnPush); err != nil {
		return err
	}
	repo, err := m.lookup(OpSetScanOnPush, name)
	if err != nil {
		return err
	}
	repo.scanOnPush = enabled
	return nil
}

// GetAccessPolicy implements StateReader
func (m *MemoryClient) GetAccessPolicy(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGetAccessPolicy); err != nil {
		return nil, err
	}
	repo, err := m.lookup(OpGetAccessPolicy, name)
	if err != nil {
		return nil, err
	}
	return clone(repo.accessPolicy), nil
}

// GetLifecyclePolicy implements StateReader
func (m *MemoryClient) GetLifecyclePolicy(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGetLifecyclePolicy); err != nil {
		return nil, err
	}
	repo, err := m.lookup(OpGetLifecyclePolicy, name)
	if err != nil {
		return nil, err
	}
	return clone(repo.lifecyclePolicy), nil
}

// GetScanOnPush implements StateReader
func (m *MemoryClient) GetScanOnPush(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGetScanOnPush); err != nil {
		return false, err
	}
	repo, err := m.lookup(OpGetScanOnPush, name)
	if err != nil {
		return false, err
	}
	return repo.scanOnPush, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
