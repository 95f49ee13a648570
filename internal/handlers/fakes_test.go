package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
)

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: make(map[string]*models.User)}
}

func (f *fakeUsers) GetOrCreateByEmail(_ context.Context, email string, now time.Time) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		u = &models.User{ID: uuid.New(), Email: email, CreatedAt: now, IsActive: true}
		f.byEmail[email] = u
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) RecordLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			u.LastLogin = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeUsers) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, u := range f.byEmail {
		if u.ID == id {
			delete(f.byEmail, email)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeLoginTokens struct {
	mu     sync.Mutex
	tokens map[string]*models.LoginToken
}

func newFakeLoginTokens() *fakeLoginTokens {
	return &fakeLoginTokens{tokens: make(map[string]*models.LoginToken)}
}

func (f *fakeLoginTokens) CreateLoginToken(_ context.Context, t *models.LoginToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tokens[t.TokenHash] = &cp
	return nil
}

func (f *fakeLoginTokens) ConsumeLoginToken(_ context.Context, hash string, now time.Time) (*models.LoginToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[hash]
	if !ok || t.Used || !t.ExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	t.Used = true
	t.UsedAt = &now
	cp := *t
	return &cp, nil
}

type fakeHistory struct {
	mu    sync.Mutex
	items []models.Identification
}

func (f *fakeHistory) Create(_ context.Context, i *models.Identification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, *i)
	return nil
}

func (f *fakeHistory) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Identification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Identification
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].UserID == userID {
			out = append(out, f.items[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistory) Get(_ context.Context, id, userID uuid.UUID) (*models.Identification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ID == id && it.UserID == userID {
			cp := it
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeHistory) SetFeedback(_ context.Context, id, userID uuid.UUID, feedback, comment string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].UserID == userID {
			f.items[i].UserFeedback = &feedback
			f.items[i].FeedbackComment = &comment
			f.items[i].FeedbackAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeClassifier struct {
	mu    sync.Mutex
	err   error
	calls int
	mime  string
}

func (f *fakeClassifier) Name() string { return "openai" }

func (f *fakeClassifier) Identify(_ context.Context, image []byte, mimeType string) (*models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mime = mimeType
	if f.err != nil {
		return nil, f.err
	}
	return &models.Classification{
		IsAnimal:   true,
		Species:    "Vulpes vulpes",
		CommonName: "Red fox",
		AnimalType: "mammal",
		Confidence: models.ConfidenceHigh,
		Provider:   "openai",
	}, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	to    string
	links []string
}

func (f *fakeMailer) SendMagicLink(_ context.Context, to, link string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = to
	f.links = append(f.links, link)
	return nil
}

func (f *fakeMailer) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return ""
	}
	return f.links[len(f.links)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.IdentificationEvent
}

func (f *fakePublisher) IdentificationCreated(_ context.Context, ev models.IdentificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
