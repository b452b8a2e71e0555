package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"vaxhunterbot/internal/domain"
	ws "vaxhunterbot/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHub(t *testing.T) *ws.Hub {
	t.Helper()
	hub := ws.NewHub(testLogger())
	go hub.Run()
	return hub
}

// fakeStore is an in-memory SubscriptionStore, CursorStore and
// SubscriptionFinder used across engine tests.
type fakeStore struct {
	mu      sync.Mutex
	subs    []domain.Subscription
	cursors map[string]string
	nextID  int

	failCreates   bool
	failCreateFor map[string]bool // postal code → fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{cursors: make(map[string]string)}
}

func (f *fakeStore) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreates || f.failCreateFor[sub.PostalCode] {
		return nil, errors.New("store unavailable")
	}

	for _, existing := range f.subs {
		if existing.UserID == sub.UserID && existing.PostalCode == sub.PostalCode {
			return &existing, nil
		}
	}

	f.nextID++
	sub.ID = fmt.Sprintf("sub-%d", f.nextID)
	f.subs = append(f.subs, sub)
	return &sub, nil
}

func (f *fakeStore) FindSubscriptionsByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeStore) FindSubscriptionsByPostalCodes(ctx context.Context, postalCodes []string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	match := make(map[string]struct{}, len(postalCodes))
	for _, code := range postalCodes {
		match[code] = struct{}{}
	}

	var out []domain.Subscription
	for _, sub := range f.subs {
		if _, ok := match[sub.PostalCode]; ok {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept []domain.Subscription
	var deleted int64
	for _, sub := range f.subs {
		if sub.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, sub)
	}
	f.subs = kept
	return deleted, nil
}

func (f *fakeStore) PendingConfirmations(ctx context.Context) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]struct{})
	var out []domain.Subscription
	for _, sub := range f.subs {
		if sub.Confirmed {
			continue
		}
		if _, ok := seen[sub.SourcePostID]; ok {
			continue
		}
		seen[sub.SourcePostID] = struct{}{}
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeStore) MarkConfirmedByUsername(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.subs {
		if f.subs[i].Username == username {
			f.subs[i].Confirmed = true
		}
	}
	return nil
}

func (f *fakeStore) GetCursor(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[name], nil
}

func (f *fakeStore) SetCursor(ctx context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[name] = value
	return nil
}

func (f *fakeStore) all() []domain.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Subscription, len(f.subs))
	copy(out, f.subs)
	return out
}

func (f *fakeStore) byUser(userID string) []domain.Subscription {
	subs, _ := f.FindSubscriptionsByUser(context.Background(), userID)
	return subs
}

// fakeReplier records posted replies and can be told to fail.
type fakeReplier struct {
	mu      sync.Mutex
	replies []postedReply
	fail    bool
}

type postedReply struct {
	Text            string
	InReplyToPostID string
}

func (f *fakeReplier) PostReply(ctx context.Context, text, inReplyToPostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("transport down")
	}
	f.replies = append(f.replies, postedReply{Text: text, InReplyToPostID: inReplyToPostID})
	return nil
}

func (f *fakeReplier) posted() []postedReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postedReply, len(f.replies))
	copy(out, f.replies)
	return out
}

// fakeFetcher serves canned batches of mentions, newest-first, one batch per
// call.
type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]domain.Post
	calls   []string
}

func (f *fakeFetcher) MentionsSince(ctx context.Context, sinceID string, count int) ([]domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, sinceID)
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}
