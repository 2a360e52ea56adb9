package service

import (
	"context"
	"sync"

	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// Mock form sender
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, fields map[string]string) error {
	args := m.Called(ctx, fields)
	return args.Error(0)
}

// In-memory outbox store
type memoryOutboxStore struct {
	mu        sync.Mutex
	nextID    int64
	messages  []models.PendingMessage
	appendErr error
	listErr   error
	clearErr  error
	clears    int
}

func (s *memoryOutboxStore) AppendPendingMessage(ctx context.Context, msg models.PendingMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.nextID++
	msg.ID = s.nextID
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *memoryOutboxStore) ListPendingMessages(ctx context.Context) ([]models.PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.PendingMessage, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *memoryOutboxStore) ClearPendingMessages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.clears++
	s.messages = nil
	return nil
}

func (s *memoryOutboxStore) CountPendingMessages(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), nil
}

func (s *memoryOutboxStore) pending() []models.PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// In-memory insights store
type memoryInsightsStore struct {
	mu        sync.Mutex
	byID      map[int64]models.Insight
	order     []int64
	upsertErr error
	listErr   error
}

func newMemoryInsightsStore(seed ...models.Insight) *memoryInsightsStore {
	s := &memoryInsightsStore{byID: make(map[int64]models.Insight)}
	_ = s.UpsertInsights(context.Background(), seed)
	return s
}

func (s *memoryInsightsStore) UpsertInsights(ctx context.Context, insights []models.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, in := range insights {
		if _, ok := s.byID[in.ID]; !ok {
			s.order = append(s.order, in.ID)
		}
		s.byID[in.ID] = in
	}
	return nil
}

func (s *memoryInsightsStore) ListInsights(ctx context.Context) ([]models.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Insight, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Notice recorder
type recordingNotices struct {
	mu      sync.Mutex
	notices []models.Notice
}

func (r *recordingNotices) Publish(ctx context.Context, notice models.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
}

func (r *recordingNotices) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func validForm() map[string]string {
	return map[string]string{
		models.FieldName:    "Ana Pérez",
		models.FieldEmail:   "ana@example.com",
		models.FieldNumber:  "+34600111222",
		models.FieldMessage: "Quiero un presupuesto para mi piscina",
	}
}
