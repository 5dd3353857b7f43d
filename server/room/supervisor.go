package room

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	defaultProbeConcurrency  = 16
)

// LastSeener is implemented by handles that track when the peer last
// answered a probe or sent a frame.
type LastSeener interface {
	LastSeen() time.Time
}

// SupervisorOptions configures liveness probing.
type SupervisorOptions struct {
	Interval time.Duration
	// MaxMissedProbes evicts a LastSeener handle silent for this many
	// intervals. Zero relies on send failures alone.
	MaxMissedProbes int
	Concurrency     int
}

// Supervisor periodically probes every registered handle and evicts dead ones.
type Supervisor struct {
	registry  *Registry
	interval  time.Duration
	maxMissed int
	limit     int
	logger    *slog.Logger
	now       func() time.Time
}

func NewSupervisor(registry *Registry, opts SupervisorOptions, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultProbeConcurrency
	}
	return &Supervisor{
		registry:  registry,
		interval:  interval,
		maxMissed: opts.MaxMissedProbes,
		limit:     limit,
		logger:    logger,
		now:       time.Now,
	}
}

// Run probes on every tick until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := s.Sweep(); evicted > 0 {
				s.logger.Info("liveness sweep", "evicted", evicted)
			}
		}
	}
}

// Sweep runs one probe round and returns how many entries were evicted.
func (s *Supervisor) Sweep() int {
	entries := s.registry.Snapshot()
	evicted := make([]bool, len(entries))

	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if reason := s.probe(entry); reason != "" {
				evicted[i] = s.evict(entry, reason)
			}
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range evicted {
		if ok {
			count++
		}
	}
	return count
}

func (s *Supervisor) probe(entry Entry) string {
	if s.maxMissed > 0 {
		if seen, ok := entry.Handle.(LastSeener); ok {
			deadline := time.Duration(s.maxMissed) * s.interval
			if last := seen.LastSeen(); !last.IsZero() && s.now().Sub(last) > deadline {
				return "missed probes"
			}
		}
	}
	if err := entry.Handle.Ping(); err != nil {
		return "probe failed"
	}
	return ""
}

func (s *Supervisor) evict(entry Entry, reason string) bool {
	released := s.registry.Release(entry.Identity, entry.Handle)
	_ = entry.Handle.Close()
	if released {
		s.logger.Info("evicted connection", "identity", entry.Identity, "role", string(entry.Role), "reason", reason)
	}
	return released
}
