package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/creepmon/internal/clock"
)

// DefaultProgressEvery is one hour of cycles at the default 30s interval.
const DefaultProgressEvery = 120

// State is the lifecycle of a poll run.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
)

// ErrAlreadyStarted is returned in the report of a second Run call.
var ErrAlreadyStarted = errors.New("sampler: run already started")

// Fetcher produces exactly one sample per call.
type Fetcher interface {
	Sample(ctx context.Context) Sample
}

// Sink persists samples.
type Sink interface {
	Append(sample Sample) error
}

// Options configures a poll run.
type Options struct {
	Duration      time.Duration
	Interval      time.Duration
	ProgressEvery int
	// OutputPath is only reported in logs and status.
	OutputPath string
	RunID      string
}

// Report summarises a finished run.
type Report struct {
	RunID      string
	State      State
	Cycles     int
	StartedAt  time.Time
	FinishedAt time.Time
	Output     string
	// Err is set when the run ended on an unexpected fault.
	Err error
}

// Status is a point-in-time view of the run for status surfaces.
type Status struct {
	RunID           string            `json:"run_id"`
	State           State             `json:"state"`
	Cycles          int               `json:"cycles"`
	FetchErrors     map[ErrorKind]int `json:"fetch_errors"`
	JournalErrors   int               `json:"journal_errors"`
	IntervalSeconds float64           `json:"interval_s"`
	Output          string            `json:"output"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndsAt          *time.Time        `json:"ends_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// Manager drives the fixed-interval poll loop, caches the latest sample
// and fans it out to subscribers. The loop itself is sequential.
type Manager struct {
	opts    Options
	fetcher Fetcher
	sink    Sink
	clock   clock.Clock
	logger  *slog.Logger

	mu            sync.RWMutex
	state         State
	cycles        int
	fetchErrors   map[ErrorKind]int
	journalErrors int
	startedAt     time.Time
	endsAt        time.Time
	finishedAt    time.Time
	latest        Sample
	hasLatest     bool
	subscribers   map[*subscriber]struct{}
}

// NewManager validates options and builds an idle Manager.
func NewManager(opts Options, fetcher Fetcher, sink Sink, clk clock.Clock, logger *slog.Logger) (*Manager, error) {
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be > 0")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if fetcher == nil || sink == nil {
		return nil, fmt.Errorf("fetcher and sink are required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		opts:        opts,
		fetcher:     fetcher,
		sink:        sink,
		clock:       clk,
		logger:      logger.With("component", "sampler_manager"),
		state:       StateIdle,
		fetchErrors: make(map[ErrorKind]int),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run polls until the configured duration elapses or ctx is cancelled.
// A cancellation during the interval wait ends the run immediately. A
// panic in the loop body is recovered and ends the run as interrupted.
func (m *Manager) Run(ctx context.Context) (report Report) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return Report{RunID: m.opts.RunID, State: m.State(), Err: ErrAlreadyStarted}
	}
	start := m.clock.Now()
	end := start.Add(m.opts.Duration)
	m.state = StateRunning
	m.startedAt = start
	m.endsAt = end
	m.mu.Unlock()

	m.logger.Info("starting sensor monitor",
		"run_id", m.opts.RunID,
		"duration", m.opts.Duration,
		"interval", m.opts.Interval,
		"start", start,
		"end", end,
	)

	var (
		cycles int
		final  = StateCompleted
		runErr error
	)

	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("panic: %v", rec)
			m.logger.Error("unexpected error", "err", runErr)
			final = StateInterrupted
		}
		report = m.finish(final, cycles, runErr)
	}()

loop:
	for m.clock.Now().Before(end) {
		if ctx.Err() != nil {
			final = StateInterrupted
			break
		}

		cycleStart := m.clock.Now()
		sample := m.fetcher.Sample(ctx)
		if ctx.Err() != nil {
			// The fetch was cut short; the cycle never completed.
			final = StateInterrupted
			break
		}

		if err := m.sink.Append(sample); err != nil {
			m.logger.Error("error saving data", "err", err)
			m.noteJournalError()
		}
		cycles++
		m.storeSample(sample, cycles)

		wait := max(0, m.opts.Interval-m.clock.Now().Sub(cycleStart))

		if cycles%m.opts.ProgressEvery == 0 {
			m.logger.Info("progress",
				"cycles", cycles,
				"remaining", end.Sub(m.clock.Now()).Round(time.Second),
			)
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				final = StateInterrupted
				break loop
			case <-m.clock.After(wait):
			}
		}
	}

	return report
}

func (m *Manager) finish(final State, cycles int, runErr error) Report {
	now := m.clock.Now()

	m.mu.Lock()
	m.state = final
	m.finishedAt = now
	started := m.startedAt
	subs := m.subscribers
	m.subscribers = make(map[*subscriber]struct{})
	m.mu.Unlock()

	for sub := range subs {
		sub.close()
	}

	if final == StateInterrupted && runErr == nil {
		m.logger.Info("monitoring interrupted")
	}
	m.logger.Info("monitoring finished",
		"state", final,
		"cycles", cycles,
		"output", m.opts.OutputPath,
	)

	return Report{
		RunID:      m.opts.RunID,
		State:      final,
		Cycles:     cycles,
		StartedAt:  started,
		FinishedAt: now,
		Output:     m.opts.OutputPath,
		Err:        runErr,
	}
}

// Latest returns the most recent sample.
func (m *Manager) Latest() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Ready reports whether at least one sample has been produced.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLatest
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Interval returns the configured poll interval.
func (m *Manager) Interval() time.Duration {
	return m.opts.Interval
}

// RunID returns the identifier of this run.
func (m *Manager) RunID() string {
	return m.opts.RunID
}

// Status returns a snapshot of the run counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[ErrorKind]int, len(m.fetchErrors))
	for kind, count := range m.fetchErrors {
		errs[kind] = count
	}
	status := Status{
		RunID:           m.opts.RunID,
		State:           m.state,
		Cycles:          m.cycles,
		FetchErrors:     errs,
		JournalErrors:   m.journalErrors,
		IntervalSeconds: m.opts.Interval.Seconds(),
		Output:          m.opts.OutputPath,
	}
	if !m.startedAt.IsZero() {
		started, ends := m.startedAt, m.endsAt
		status.StartedAt = &started
		status.EndsAt = &ends
	}
	if !m.finishedAt.IsZero() {
		finished := m.finishedAt
		status.FinishedAt = &finished
	}
	return status
}

// Subscribe registers a listener for new samples. The channel is closed
// when the run finishes or unsubscribe is called.
func (m *Manager) Subscribe() (<-chan Sample, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateCompleted || m.state == StateInterrupted {
		return nil, nil, fmt.Errorf("run %s", m.state)
	}

	sub := newSubscriber()
	m.subscribers[sub] = struct{}{}
	if m.hasLatest {
		sub.send(m.latest)
	}

	unsubscribe := func() {
		m.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe, nil
}

func (m *Manager) storeSample(sample Sample, cycles int) {
	m.mu.Lock()
	m.latest = sample
	m.hasLatest = true
	m.cycles = cycles
	if !sample.OK() {
		m.fetchErrors[ErrorKind(strings.TrimPrefix(sample.StatusCode, errorStatusPrefix))]++
	}

	targetSubs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targetSubs = append(targetSubs, sub)
	}
	m.mu.Unlock()

	for _, sub := range targetSubs {
		sub.send(sample)
	}
}

func (m *Manager) noteJournalError() {
	m.mu.Lock()
	m.journalErrors++
	m.mu.Unlock()
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
}

type subscriber struct {
	ch     chan Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Sample, 1),
	}
}

func (s *subscriber) channel() <-chan Sample {
	return s.ch
}

func (s *subscriber) send(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
		return
	default:
		// Drop oldest to make room for new sample.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- sample:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
