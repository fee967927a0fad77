package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clipforge/clipforge/internal/logger"
)

// Lifecycle manager defaults
const (
	// DefaultStartTimeout bounds the wait for the instance to reach running
	DefaultStartTimeout = 600 * time.Second
	// DefaultPollInterval is the base delay between status polls while waiting
	DefaultPollInterval = 10 * time.Second
	// DefaultStopCooldown is the minimum gap between stop requests
	DefaultStopCooldown = 120 * time.Second
	// DefaultIdleWindow is how long the instance must see no SSH/HTTP
	// activity before an idle stop is allowed
	DefaultIdleWindow = 300 * time.Second
)

// IdleChecker reports whether the engine has any work that needs the instance
type IdleChecker interface {
	// QueuesEmpty reports whether every stage queue across both pipelines is empty
	QueuesEmpty() bool
	// GPUBusy reports whether any job currently holds a GPU-bound stage
	GPUBusy() bool
}

// ManagerOptions configures a Manager
type ManagerOptions struct {
	// InstanceID is the configured instance id; may be empty if a cached id exists
	InstanceID string
	// CacheFile persists the instance id across restarts
	CacheFile string
	// AutoStopDisabled turns StopIfIdle into a no-op for deployments that
	// manage the instance out-of-band
	AutoStopDisabled bool
	StartTimeout     time.Duration
	PollInterval     time.Duration
	StopCooldown     time.Duration
	IdleWindow       time.Duration
	// Now and Sleep are injectable for deterministic tests
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Manager owns the single rented GPU instance: it starts it on demand,
// coalescing concurrent requests, and stops it when the engine goes idle.
// It never creates or destroys the instance.
type Manager struct {
	client *Client
	opts   ManagerOptions
	group  singleflight.Group

	mu           sync.Mutex
	instanceID   string
	lastActivity time.Time
	lastStop     time.Time
}

type instanceCache struct {
	ID string `json:"id"`
}

// NewManager creates a lifecycle manager around the fleet client
func NewManager(client *Client, opts ManagerOptions) *Manager {
	if opts.StartTimeout == 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopCooldown == 0 {
		opts.StopCooldown = DefaultStopCooldown
	}
	if opts.IdleWindow == 0 {
		opts.IdleWindow = DefaultIdleWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	m := &Manager{
		client:     client,
		opts:       opts,
		instanceID: opts.InstanceID,
	}
	if m.instanceID == "" {
		m.instanceID = m.loadCachedID()
	} else {
		m.saveCachedID(m.instanceID)
	}
	return m
}

func (m *Manager) loadCachedID() string {
	if m.opts.CacheFile == "" {
		return ""
	}
	data, err := os.ReadFile(m.opts.CacheFile)
	if err != nil {
		return ""
	}
	var cached instanceCache
	if err := json.Unmarshal(data, &cached); err != nil {
		return ""
	}
	return cached.ID
}

func (m *Manager) saveCachedID(id string) {
	if m.opts.CacheFile == "" {
		return
	}
	data, err := json.Marshal(instanceCache{ID: id})
	if err != nil {
		return
	}
	if err := os.WriteFile(m.opts.CacheFile, data, 0o600); err != nil {
		logger.Warnf("failed to persist instance id cache: %v", err)
	}
}

// InstanceID returns the currently held instance id, or empty
func (m *Manager) InstanceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instanceID
}

// Touch records an SSH/HTTP interaction with the instance. Transfer and
// GPU-host calls touch so StopIfIdle never stops an instance mid-use.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastActivity = m.opts.Now()
	m.mu.Unlock()
}

// EnsureRunning returns details of the running instance, starting it and
// waiting if needed. Concurrent calls are coalesced: while one call is in
// flight, later callers block on the same result instead of issuing
// duplicate start requests.
func (m *Manager) EnsureRunning(ctx context.Context) (*InstanceDetails, error) {
	v, err, _ := m.group.Do("ensure-running", func() (interface{}, error) {
		return m.ensureRunning(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InstanceDetails), nil
}

func (m *Manager) ensureRunning(ctx context.Context) (*InstanceDetails, error) {
	id := m.InstanceID()
	if id == "" {
		return nil, ErrNotConfigured
	}

	details, err := m.client.GetInstanceDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if details.Running() {
		m.Touch()
		return details, nil
	}

	logger.Infof("starting instance %s", id)
	if err := m.client.StartInstance(ctx, id); err != nil {
		return nil, err
	}

	details, err = m.waitForRunning(ctx, id)
	if err != nil {
		return nil, err
	}
	m.saveCachedID(id)
	m.Touch()
	return details, nil
}

func (m *Manager) waitForRunning(ctx context.Context, id string) (*InstanceDetails, error) {
	deadline := m.opts.Now().Add(m.opts.StartTimeout)
	for m.opts.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, &APIError{Class: Transient, Message: "instance start wait canceled", Err: ctx.Err()}
		default:
		}

		details, err := m.client.GetInstanceDetails(ctx, id)
		if err == nil && details.Running() {
			return details, nil
		}
		if err != nil {
			logger.Debugf("instance %s status poll failed: %v", id, err)
		}

		// Jitter spreads polls from workers restarted at the same moment
		jitter := time.Duration(rand.Int63n(int64(m.opts.PollInterval) / 2))
		m.opts.Sleep(m.opts.PollInterval + jitter)
	}
	return nil, &APIError{
		Class:   Transient,
		Message: fmt.Sprintf("instance %s did not reach running within %s", id, m.opts.StartTimeout),
	}
}

// StopIfIdle stops the instance when all gates hold: nothing queued, no
// GPU-bound stage active, the stop cooldown has elapsed, and no instance
// activity happened within the idle window. Any failed gate is a no-op,
// which prevents flapping and stopping an instance mid-transfer.
func (m *Manager) StopIfIdle(ctx context.Context, idle IdleChecker) bool {
	if m.opts.AutoStopDisabled {
		return false
	}

	m.mu.Lock()
	id := m.instanceID
	now := m.opts.Now()
	cooldownOK := m.lastStop.IsZero() || now.Sub(m.lastStop) > m.opts.StopCooldown
	idleOK := m.lastActivity.IsZero() || now.Sub(m.lastActivity) > m.opts.IdleWindow
	m.mu.Unlock()

	if id == "" {
		return false
	}
	if idle.GPUBusy() || !idle.QueuesEmpty() || !cooldownOK || !idleOK {
		return false
	}

	logger.Infof("stopping idle instance %s", id)
	if err := m.client.StopInstance(ctx, id); err != nil {
		logger.Warnf("failed to stop idle instance %s: %v", id, err)
		return false
	}

	m.mu.Lock()
	m.lastStop = m.opts.Now()
	m.mu.Unlock()
	return true
}

// Status reports the cached instance's state: running, stopped, or unknown
func (m *Manager) Status(ctx context.Context) string {
	id := m.InstanceID()
	if id == "" {
		return "stopped"
	}
	details, err := m.client.GetInstanceDetails(ctx, id)
	if err != nil {
		return "unknown"
	}
	if details.ActualStatus == "" {
		return "unknown"
	}
	return details.ActualStatus
}
