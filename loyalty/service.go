package loyalty

import (
	"context"
	"time"

	"loyalty-engine/config"
	"loyalty-engine/database"
	"loyalty-engine/staffmotivation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("loyalty-engine/loyalty")

// SettingsCache holds merchant settings snapshots between requests.
type SettingsCache interface {
	Get(ctx context.Context, merchantID uuid.UUID) (*Settings, bool)
	Set(ctx context.Context, merchantID uuid.UUID, settings Settings)
	Invalidate(ctx context.Context, merchantID uuid.UUID)
}

// Recorder receives ledger counters. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveCommit(alreadyCommitted bool)
	AddPoints(kind string, amount int64)
}

type noopRecorder struct{}

func (noopRecorder) ObserveCommit(bool)      {}
func (noopRecorder) AddPoints(string, int64) {}

// Service is the bonus transaction engine. It is safe for concurrent use;
// every operation runs as an independent unit of work against the store.
type Service struct {
	db       *gorm.DB
	defaults config.MerchantDefaults
	staff    *staffmotivation.Engine
	cache    SettingsCache
	metrics  Recorder
	segments *SegmentEvaluator
	now      func() time.Time
}

type Option func(*Service)

func WithDefaults(d config.MerchantDefaults) Option {
	return func(s *Service) { s.defaults = d }
}

func WithSettingsCache(c SettingsCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithStaffEngine(e *staffmotivation.Engine) Option {
	return func(s *Service) { s.staff = e }
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		defaults: config.DefaultMerchantDefaults(),
		metrics:  noopRecorder{},
		segments: NewSegmentEvaluator(),
		now:      database.NowUTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.staff == nil {
		s.staff = staffmotivation.NewEngine(db, staffDefaults(s.defaults))
	}
	return s
}

// StaffEngine exposes the staff motivation ledger the service writes to.
func (s *Service) StaffEngine() *staffmotivation.Engine {
	return s.staff
}
