package warehouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDB struct {
	mu     sync.Mutex
	events []domain.Event
	traits map[string]map[string]any
}

func newFakeDB() *fakeDB { return &fakeDB{traits: map[string]map[string]any{}} }

func (f *fakeDB) InsertBatch(_ context.Context, items []domain.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, items...)
	return int64(len(items)), nil
}

func (f *fakeDB) UpsertUserTraits(_ context.Context, userID string, traits map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traits[userID] == nil {
		f.traits[userID] = map[string]any{}
	}
	for k, v := range traits {
		f.traits[userID][k] = v
	}
	return nil
}

func (f *fakeDB) stored() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

func newProvider(db *fakeDB) *Provider {
	return New(Config{
		BatchMaxSize: 100,
		BatchMaxWait: time.Hour,
		SessionID:    func(context.Context) string { return "sess-1" },
		Now:          func() time.Time { return time.Unix(100, 0).UTC() },
	}, db, db, nil)
}

func TestInitializeRequiresDatabase(t *testing.T) {
	err := New(Config{}, nil, nil, nil).Initialize(context.Background())
	assert.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestInitializeRunsMigration(t *testing.T) {
	db := newFakeDB()
	migrated := 0
	p := New(Config{Migrate: func(context.Context) error { migrated++; return nil }}, db, db, nil)
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, 1, migrated)
	require.NoError(t, p.Close())

	failing := New(Config{Migrate: func(context.Context) error { return errors.New("no schema") }}, db, db, nil)
	assert.Error(t, failing.Initialize(context.Background()))
}

func TestTrackBeforeInitialize(t *testing.T) {
	db := newFakeDB()
	assert.ErrorIs(t, newProvider(db).Track(context.Background(), domain.Event{Name: "x"}), provider.ErrNotInitialized)
}

func TestEventsAreFlushedOnClose(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newProvider(db)
	require.NoError(t, p.Initialize(ctx))

	require.NoError(t, p.Identify(ctx, "u1", nil))
	require.NoError(t, p.Track(ctx, domain.Event{Name: "button_click", SessionID: "sess-1"}))
	require.NoError(t, p.Page(ctx, "Home", map[string]any{"path": "/"}))
	require.NoError(t, p.Close())

	events := db.stored()
	require.Len(t, events, 2)
	assert.Equal(t, "button_click", events[0].Name)
	assert.Equal(t, "u1", events[0].UserID, "identified user is attached to events")
	assert.Equal(t, "page_view", events[1].Name)
	assert.Equal(t, "Home", events[1].Label)
	assert.Equal(t, "sess-1", events[1].SessionID)
}

func TestTraitsBeforeAndAfterIdentify(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := newProvider(db)

	require.NoError(t, p.SetUserProperties(ctx, map[string]any{"source": "ads"}))
	assert.Empty(t, db.traits, "anonymous traits wait for identify")

	require.NoError(t, p.Identify(ctx, "u1", map[string]any{"plan": "pro"}))
	require.NoError(t, p.SetUserProperties(ctx, map[string]any{"seats": 3}))
	assert.Equal(t, map[string]any{"source": "ads", "plan": "pro", "seats": 3}, db.traits["u1"])

	require.NoError(t, p.Reset(ctx))
	require.NoError(t, p.SetUserProperties(ctx, map[string]any{"x": 1}))
	assert.NotContains(t, db.traits["u1"], "x")
}
