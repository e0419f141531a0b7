// Package versioning turns a document's flat annotation overlay into an
// append-only, linear history of versions and computes structural diffs
// between any two of them.
package versioning

import (
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
)

const defaultDiffCacheSize = 256

var noOpLogger = zap.NewNop()

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the version engine.
type ServiceConfig struct {
	Store      records.Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Events     EventPublisher
	Metrics    *Metrics
	// DiffCacheSize bounds the number of memoised version pairs. Zero selects the default; negative disables caching.
	DiffCacheSize int
}

// Service owns the commit engine, the diff engine, the live mutation path and the edit ledger.
type Service struct {
	store      records.Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	events     EventPublisher
	metrics    *Metrics
	diffs      *diffCache
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	events := cfg.Events
	if events == nil {
		events = noOpPublisher{}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	cacheSize := cfg.DiffCacheSize
	if cacheSize == 0 {
		cacheSize = defaultDiffCacheSize
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		events:     events,
		metrics:    metrics,
		diffs:      newDiffCache(cacheSize),
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDGenerationFailed, err)
		return "", newServiceError(operation, reasonIDGenerationFailed, err)
	}
	return id, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("versioning service error", attrs...)
}

// fail logs the failure and returns the classified service error.
func (s *Service) fail(operation, reason string, cause error, fields ...zap.Field) error {
	s.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, cause)
}
