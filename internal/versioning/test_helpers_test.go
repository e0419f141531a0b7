package versioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var errInjected = errors.New("injected storage failure")

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type testHarness struct {
	service *Service
	store   *records.GormStore
	db      *gorm.DB
	ids     *sequentialIDs
	clock   *steppingClock
	events  *recordingPublisher
	metrics *Metrics
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:versioning_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(records.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := records.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	harness := &testHarness{
		store:   store,
		db:      db,
		ids:     &sequentialIDs{},
		clock:   newSteppingClock(),
		events:  &recordingPublisher{},
		metrics: NewMetrics(nil),
	}
	harness.service = harness.newService(t, store)
	return harness
}

// newService builds another service over the given store sharing the harness ids and clock.
func (h *testHarness) newService(t *testing.T, store records.Store) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      h.clock.Now,
		IDProvider: h.ids,
		Events:     h.events,
		Metrics:    h.metrics,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func (h *testHarness) createDocument(t *testing.T) records.Document {
	t.Helper()
	document, err := h.service.CreateDocument(context.Background(), NewDocument{Name: "contract.pdf", FileHash: "sha256:abc", PageCount: 3})
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	return document
}

func (h *testHarness) addAnnotation(t *testing.T, documentID string, page int, x, y float64) records.Annotation {
	t.Helper()
	annotation, err := h.service.AddAnnotation(context.Background(), documentID, AnnotationInput{
		Type:       records.AnnotationTypeHighlight,
		PageNumber: page,
		X:          x,
		Y:          y,
		Width:      40,
		Height:     12,
		Content:    "clause",
	})
	if err != nil {
		t.Fatalf("failed to add annotation: %v", err)
	}
	return annotation
}

func (h *testHarness) commit(t *testing.T, documentID, message string) CommitResult {
	t.Helper()
	result, err := h.service.CommitWorkingSet(context.Background(), documentID, message)
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return result
}

func (h *testHarness) annotationsOf(t *testing.T, versionID string) []records.Annotation {
	t.Helper()
	annotations, err := h.service.ListAnnotations(context.Background(), versionID, nil)
	if err != nil {
		t.Fatalf("failed to list annotations: %v", err)
	}
	return annotations
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != code {
		t.Fatalf("expected code %s, got %s", code, serviceErr.Code())
	}
}

// faultyStore wraps a store and fails selected writes, both inside and outside transactions.
type faultyStore struct {
	records.Store
	failAnnotationPuts bool
	failLedger         bool
}

func (s *faultyStore) Transaction(ctx context.Context, fn func(tx records.Tx) error) error {
	return s.Store.Transaction(ctx, func(tx records.Tx) error {
		return fn(faultyTx{Tx: tx, parent: s})
	})
}

func (s *faultyStore) PutAnnotation(ctx context.Context, annotation *records.Annotation) error {
	if s.failAnnotationPuts {
		return errInjected
	}
	return s.Store.PutAnnotation(ctx, annotation)
}

func (s *faultyStore) AppendEdit(ctx context.Context, edit *records.Edit) error {
	if s.failLedger {
		return errInjected
	}
	return s.Store.AppendEdit(ctx, edit)
}

type faultyTx struct {
	records.Tx
	parent *faultyStore
}

func (t faultyTx) PutAnnotation(ctx context.Context, annotation *records.Annotation) error {
	if t.parent.failAnnotationPuts {
		return errInjected
	}
	return t.Tx.PutAnnotation(ctx, annotation)
}

func (t faultyTx) AppendEdit(ctx context.Context, edit *records.Edit) error {
	if t.parent.failLedger {
		return errInjected
	}
	return t.Tx.AppendEdit(ctx, edit)
}
