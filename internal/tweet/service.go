package tweet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/repository"
)

// ErrInvalid indicates a request that cannot produce a valid tweet.
var ErrInvalid = errors.New("invalid tweet")

// CreateTweet is the input of Service.Create.
type CreateTweet struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// UpdateTweet is the input of Service.Update.
type UpdateTweet struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Repository is the tweet instantiation of the generic repository.
type Repository = repository.Repository[Tweet, *Tweet]

// NewRepository wires a tweet repository; Kind and DocumentKey are fixed.
func NewRepository(cfg repository.Config) *Repository {
	cfg.Kind = Kind
	cfg.DocumentKey = DocumentKey
	return repository.New[Tweet](cfg)
}

// Service implements the tweet operations on top of the event log.
type Service struct {
	repo *Repository
}

// NewService creates a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create stores a new tweet with a fresh id and the current time.
func (s *Service) Create(ctx context.Context, in CreateTweet) (Tweet, error) {
	if strings.TrimSpace(in.Content) == "" {
		return Tweet{}, fmt.Errorf("%w: content is required", ErrInvalid)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Tweet{}, fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	return s.repo.Create(ctx, New(in.Content, in.UserID, s.repo.Now()))
}

// Update replaces the content of a tweet and refreshes its timestamp.
func (s *Service) Update(ctx context.Context, in UpdateTweet) (Tweet, error) {
	if strings.TrimSpace(in.ID) == "" {
		return Tweet{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	now := s.repo.Now()
	return s.repo.Update(ctx, in.ID, func(t *Tweet) {
		t.Content = in.Content
		t.Timestamp = now
	})
}

// Delete removes a tweet from the listing.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// List returns the cached tweet list, newest first.
func (s *Service) List(ctx context.Context) ([]Tweet, error) {
	return s.repo.List(ctx)
}

// All replays every tweet from the event log, newest first.
func (s *Service) All(ctx context.Context) ([]Tweet, error) {
	return s.repo.Replay(ctx)
}

// Get replays one tweet from the event log.
func (s *Service) Get(ctx context.Context, id string) (Tweet, error) {
	return s.repo.Get(ctx, id)
}

// History returns the events of one tweet in replay order.
func (s *Service) History(ctx context.Context, id string) ([]event.Event, error) {
	return s.repo.History(ctx, id)
}

// Verify reports how the cached list differs from the event log.
func (s *Service) Verify(ctx context.Context) (repository.Divergence, error) {
	return s.repo.Verify(ctx)
}

// Repair rebuilds the cached list from the event log.
func (s *Service) Repair(ctx context.Context) (int, error) {
	return s.repo.Repair(ctx)
}
