package pipeline

import (
	"context"
	"sync"
)

// Slots is the shared resource manager injected into every worker pool. It
// tracks the scarce GPU-processing slots and which pools are mid-handler,
// feeding both the idle-stop gates and the watchdog's saturation exemption.
// It is constructed per engine, never package-level, so tests get isolated
// instances.
type Slots struct {
	gpu chan struct{}

	mu   sync.Mutex
	busy map[string]int // pool name -> workers currently inside a handler
}

// NewSlots creates a resource manager with the given GPU concurrency cap
func NewSlots(gpuCap int) *Slots {
	if gpuCap < 1 {
		gpuCap = 1
	}
	return &Slots{
		gpu:  make(chan struct{}, gpuCap),
		busy: make(map[string]int),
	}
}

// AcquireGPU blocks until a GPU slot is free or ctx is done
func (s *Slots) AcquireGPU(ctx context.Context) error {
	select {
	case s.gpu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseGPU frees a GPU slot
func (s *Slots) ReleaseGPU() {
	select {
	case <-s.gpu:
	default:
		// Release without acquire is a programming error; keep the gauge sane
	}
}

// ActiveGPU returns the number of held GPU slots
func (s *Slots) ActiveGPU() int {
	return len(s.gpu)
}

// GPUSaturated reports whether every GPU slot is held
func (s *Slots) GPUSaturated() bool {
	return len(s.gpu) == cap(s.gpu)
}

// GPUCap returns the configured slot count
func (s *Slots) GPUCap() int {
	return cap(s.gpu)
}

// Enter marks a worker of the named pool as inside its handler
func (s *Slots) Enter(pool string) {
	s.mu.Lock()
	s.busy[pool]++
	s.mu.Unlock()
}

// Exit marks the worker as done with its handler
func (s *Slots) Exit(pool string) {
	s.mu.Lock()
	if s.busy[pool] > 0 {
		s.busy[pool]--
	}
	s.mu.Unlock()
}

// Busy returns how many workers of the named pool are inside a handler
func (s *Slots) Busy(pool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[pool]
}

// AnyBusy reports whether any of the named pools has a worker inside a handler
func (s *Slots) AnyBusy(pools ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pools {
		if s.busy[p] > 0 {
			return true
		}
	}
	return false
}
