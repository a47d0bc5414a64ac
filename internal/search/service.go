package search

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"huddle/api/internal/store"
)

const syncBatch = 500

// engine is the Meilisearch surface the service uses.
type engine interface {
	Healthy() bool
	SearchUsers(q Query) ([]Result, error)
	IndexUsers(users []UserRecord) error
}

// Service tries Meilisearch first and falls back to the store.
type Service struct {
	engine   engine
	fallback Fallback
	log      *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured. When it is set, the index is re-synced from the store each
// time Meilisearch recovers.
func NewService(meili *Meili, fallback Fallback, log *zap.Logger) *Service {
	if meili == nil {
		return newService(nil, fallback, log)
	}
	s := newService(meili, fallback, log)
	meili.OnRecover(func() {
		if err := s.Sync(context.Background()); err != nil {
			s.log.Warn("resync users after recovery", zap.Error(err))
		}
	})
	return s
}

func newService(e engine, fallback Fallback, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{engine: e, fallback: fallback, log: log.Named("search")}
}

func (s *Service) SearchUsers(ctx context.Context, q Query) ([]Result, error) {
	if s.engine != nil && s.engine.Healthy() {
		results, err := s.engine.SearchUsers(q)
		if err == nil {
			return results, nil
		}
		s.log.Warn("meilisearch error, falling back to store", zap.Error(err))
	}

	users, err := s.fallback.SearchUsers(ctx, q.Text, q.ChannelID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	exclude := make(map[string]struct{}, len(q.ExcludeIDs))
	for _, id := range q.ExcludeIDs {
		exclude[id] = struct{}{}
	}
	results := make([]Result, 0, len(users))
	for _, user := range users {
		if _, skip := exclude[user.ID]; skip {
			continue
		}
		results = append(results, Result{UserID: user.ID, Username: user.Username})
	}
	return results, nil
}

// Sync pushes every stored user to Meilisearch. It is a no-op while
// Meilisearch is not configured or unhealthy.
func (s *Service) Sync(ctx context.Context) error {
	if s.engine == nil || !s.engine.Healthy() {
		return nil
	}
	users, err := s.fallback.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	records := lo.Map(users, func(user store.User, _ int) UserRecord { return RecordFromUser(user) })
	for _, batch := range lo.Chunk(records, syncBatch) {
		if err := s.engine.IndexUsers(batch); err != nil {
			return fmt.Errorf("index users: %w", err)
		}
	}
	s.log.Info("users synced to meilisearch", zap.Int("users", len(records)))
	return nil
}
