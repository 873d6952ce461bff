// Package workflow runs the background scheduler that drives in-progress
// packets through their stage processors. Each pass observes a packet's
// revision before processing so completions arriving after a manual override
// are rejected instead of applied.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"packetwatch/internal/config"
	"packetwatch/internal/lifecycle"
	"packetwatch/internal/logging"
	"packetwatch/internal/notifications"
	"packetwatch/internal/packet"
	"packetwatch/internal/processor"
	"packetwatch/internal/stage"
)

// Manager coordinates packet processing using registered stage processors.
type Manager struct {
	cfg      *config.Config
	store    *packet.Store
	engine   *lifecycle.Engine
	registry *processor.Registry
	notifier notifications.Service
	logger   *slog.Logger

	pollInterval time.Duration
	stageTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *packet.Store, engine *lifecycle.Engine, registry *processor.Registry, notifier notifications.Service, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		engine:       engine,
		registry:     registry,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: cfg.PollInterval(),
		stageTimeout: cfg.StageTimeout(),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the scheduler loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("scheduler started", logging.Duration("poll_interval", m.pollInterval))

	for {
		m.sweep(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// sweep processes every in-progress packet once.
func (m *Manager) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	packets, err := m.store.List(ctx, packet.StatusInProgress)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("list in-progress packets", logging.Error(err))
		}
		return
	}

	for _, p := range packets {
		if ctx.Err() != nil {
			return
		}
		m.processPacket(ctx, p)
	}
}

func (m *Manager) processPacket(ctx context.Context, p *packet.Packet) {
	stageName := stage.Name(p.CurrentStage)
	requestID := uuid.NewString()

	pktCtx := logging.WithRequestID(logging.WithStage(logging.WithPacketID(ctx, p.ID), stageName), requestID)
	logger := logging.WithContext(pktCtx, m.logger)

	observed := p.Revision
	proc := m.registry.For(p.CurrentStage)

	if proc != nil {
		if err := processor.Run(pktCtx, proc, p, m.stageTimeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			inc := processor.IncidentFor(err, p, stageName)
			if _, recErr := m.engine.RecordIncident(pktCtx, p.ID, inc); recErr != nil {
				logger.Error("record stage incident", logging.Error(recErr))
				return
			}
			logger.Warn("stage failed",
				logging.String(logging.FieldEventType, "stage_failed"),
				logging.String("code", inc.Code),
				logging.Error(err),
			)
			if notifyErr := m.notifier.Publish(pktCtx, notifications.EventIncidentRecorded, notifications.Payload{
				"packetId": p.ID,
				"code":     inc.Code,
				"message":  inc.Message,
				"severity": string(inc.Severity),
				"stage":    stageName,
			}); notifyErr != nil {
				logger.Warn("send incident notification", logging.Error(notifyErr))
			}
			return
		}
	}

	completed, err := m.engine.CompleteStage(pktCtx, p.ID, observed)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrStaleCompletion):
			logger.Info("stage completion superseded",
				logging.String(logging.FieldEventType, "stage_superseded"))
		case errors.Is(err, lifecycle.ErrTerminalStage):
			// already delivered, nothing to advance
		default:
			logger.Error("complete stage", logging.Error(err))
		}
		return
	}

	logger.Info("stage completed", logging.String(logging.FieldEventType, "stage_complete"))

	if completed != nil && completed.Status == packet.StatusDelivered {
		if notifyErr := m.notifier.Publish(pktCtx, notifications.EventPacketDelivered, notifications.Payload{
			"packetId": completed.ID,
		}); notifyErr != nil {
			logger.Warn("send delivery notification", logging.Error(notifyErr))
		}
	}
}
