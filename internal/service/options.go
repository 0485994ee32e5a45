package service

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/wb-go/wbf/logger"

	"prayerflow/pkg/metric"
	"prayerflow/pkg/nolog"
)

// settings are shared by every service; each constructor applies the
// options it receives and ignores what it does not use.
type settings struct {
	log     logger.Logger
	now     func() time.Time
	randN   func(n int64) int64
	events  EventPublisher
	metrics metric.Recorder

	eventTimeout time.Duration

	batchSize        uint64
	maxRetries       int
	baseRetryDelay   time.Duration
	approvalDelayMin time.Duration
	approvalDelayMax time.Duration
	defaultTemplate  string
}

func defaultSettings() settings {
	return settings{
		log:              nolog.New(),
		now:              func() time.Time { return time.Now().UTC() },
		randN:            rand.Int64N,
		metrics:          metric.Nop{},
		eventTimeout:     _defaultEventTimeout,
		batchSize:        _defaultBatchSize,
		maxRetries:       _defaultMaxRetries,
		baseRetryDelay:   _defaultBaseRetryDelay,
		approvalDelayMin: _defaultApprovalDelayLo,
		approvalDelayMax: _defaultApprovalDelayHi,
		defaultTemplate:  DefaultApprovalTemplate,
	}
}

type Option func(*settings)

func WithLogger(log logger.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand replaces the source used to pick a delivery delay. randN must
// return a value in [0, n).
func WithRand(randN func(n int64) int64) Option {
	return func(s *settings) {
		if randN != nil {
			s.randN = randN
		}
	}
}

func WithEvents(pub EventPublisher) Option {
	return func(s *settings) {
		if pub != nil {
			s.events = pub
		}
	}
}

// WithEventTimeout bounds each event publish. Publishing runs detached from
// the caller's cancellation, so a slow broker costs at most this long.
func WithEventTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.eventTimeout = d
		}
	}
}

func WithMetrics(m metric.Recorder) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithBatchSize(size uint64) Option {
	return func(s *settings) {
		s.batchSize = size
	}
}

func WithMaxRetries(retries int) Option {
	return func(s *settings) {
		if retries > 0 {
			s.maxRetries = retries
		}
	}
}

func WithBaseRetryDelay(delay time.Duration) Option {
	return func(s *settings) {
		if delay > 0 {
			s.baseRetryDelay = delay
		}
	}
}

// WithApprovalDelay bounds the random wait between approval and delivery.
func WithApprovalDelay(minDelay, maxDelay time.Duration) Option {
	return func(s *settings) {
		if minDelay >= 0 && maxDelay >= minDelay {
			s.approvalDelayMin = minDelay
			s.approvalDelayMax = maxDelay
		}
	}
}

func WithDefaultTemplate(template string) Option {
	return func(s *settings) {
		if template != "" {
			s.defaultTemplate = template
		}
	}
}

func newSettings(opts []Option) (settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s, s.validate()
}

func (s *settings) validate() error {
	if s.batchSize == 0 || s.batchSize > _maxBatchSize {
		return fmt.Errorf("invalid batch size %d: must be in [1, %d]", s.batchSize, _maxBatchSize)
	}
	if s.maxRetries == 0 {
		return errors.New("invalid max retries: must be > 0")
	}
	if s.baseRetryDelay == 0 {
		return errors.New("invalid base retry delay: must be > 0")
	}
	if s.approvalDelayMax < s.approvalDelayMin {
		return errors.New("invalid approval delay: max must be >= min")
	}
	return nil
}

// approvalDelay is uniform in [min, max].
func (s *settings) approvalDelay() time.Duration {
	span := int64(s.approvalDelayMax - s.approvalDelayMin)
	if span <= 0 {
		return s.approvalDelayMin
	}
	return s.approvalDelayMin + time.Duration(s.randN(span+1))
}

// retryDelay grows as base·2^(attempt-1), capped at _maxRetryDelay.
func (s *settings) retryDelay(attempt int) time.Duration {
	d := min(s.baseRetryDelay, _maxRetryDelay)
	for i := 1; i < attempt && d < _maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, _maxRetryDelay)
}
