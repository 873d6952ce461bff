package processor

import (
	"sync"

	"packetwatch/internal/stage"
)

// Registry maps pipeline stage indexes to their processors. Stages without a
// registered processor auto-complete; the external collaborators behind them
// are integrated elsewhere.
type Registry struct {
	mu         sync.RWMutex
	processors map[int]Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[int]Processor)}
}

// Register binds a processor to a stage index. Registering nil removes the
// binding. Unknown stage indexes are ignored.
func (r *Registry) Register(stageIndex int, proc Processor) {
	if !stage.Valid(stageIndex) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if proc == nil {
		delete(r.processors, stageIndex)
		return
	}
	r.processors[stageIndex] = proc
}

// For returns the processor bound to a stage index, or nil.
func (r *Registry) For(stageIndex int) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processors[stageIndex]
}
