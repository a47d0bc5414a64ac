package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/api/internal/store"
)

type fakeFallback struct {
	users   []store.User
	err     error
	gotText string
	gotChan string
}

func (f *fakeFallback) SearchUsers(_ context.Context, query, excludeChannelID string, _ int) ([]store.User, error) {
	f.gotText = query
	f.gotChan = excludeChannelID
	return f.users, f.err
}

func (f *fakeFallback) ListUsers(context.Context) ([]store.User, error) {
	return f.users, f.err
}

type fakeEngine struct {
	healthy bool
	hits    []Result
	err     error
	batches [][]UserRecord
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) SearchUsers(Query) ([]Result, error) { return f.hits, f.err }

func (f *fakeEngine) IndexUsers(users []UserRecord) error {
	f.batches = append(f.batches, users)
	return nil
}

func TestSyncIndexesEveryStoredUser(t *testing.T) {
	users := make([]store.User, 0, syncBatch+1)
	for i := 0; i <= syncBatch; i++ {
		users = append(users, store.User{ID: fmt.Sprintf("usr_%d", i), Username: fmt.Sprintf("user%d", i)})
	}
	users[0].IsDeleted = true
	engine := &fakeEngine{healthy: true}
	svc := newService(engine, &fakeFallback{users: users}, nil)

	require.NoError(t, svc.Sync(context.Background()))

	require.Len(t, engine.batches, 2)
	assert.Len(t, engine.batches[0], syncBatch)
	assert.Len(t, engine.batches[1], 1)
	assert.Equal(t, UserRecord{ID: "usr_0", Username: "user0", IsDeleted: true}, engine.batches[0][0])
}

func TestSyncSkipsUnhealthyEngine(t *testing.T) {
	engine := &fakeEngine{}
	svc := newService(engine, &fakeFallback{users: []store.User{{ID: "usr_a", Username: "alice"}}}, nil)
	require.NoError(t, svc.Sync(context.Background()))
	assert.Empty(t, engine.batches)

	require.NoError(t, NewService(nil, &fakeFallback{}, nil).Sync(context.Background()))
}

func TestServicePrefersHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, hits: []Result{{UserID: "usr_m", Username: "mallory"}}}
	fb := &fakeFallback{users: []store.User{{ID: "usr_b", Username: "bob"}}}
	svc := newService(engine, fb, nil)

	results, err := svc.SearchUsers(context.Background(), Query{Text: "m"})
	require.NoError(t, err)
	assert.Equal(t, engine.hits, results)
	assert.Empty(t, fb.gotText)

	engine.err = errors.New("index missing")
	results, err = svc.SearchUsers(context.Background(), Query{Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, []Result{{UserID: "usr_b", Username: "bob"}}, results)
}

func TestServiceFallsBackToStore(t *testing.T) {
	fb := &fakeFallback{users: []store.User{{ID: "usr_b", Username: "bob"}, {ID: "usr_c", Username: "bobby"}}}
	svc := NewService(nil, fb, nil)

	results, err := svc.SearchUsers(context.Background(), Query{Text: "bob", ChannelID: "chn_1", ExcludeIDs: []string{"usr_c"}})
	require.NoError(t, err)
	assert.Equal(t, []Result{{UserID: "usr_b", Username: "bob"}}, results)
	assert.Equal(t, "bob", fb.gotText)
	assert.Equal(t, "chn_1", fb.gotChan)
}

func TestServiceSurfacesFallbackError(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("db down")}, nil)
	_, err := svc.SearchUsers(context.Background(), Query{Text: "x"})
	assert.Error(t, err)
}

func TestUserFilter(t *testing.T) {
	assert.Equal(t, "isDeleted = false", userFilter(nil))
	assert.Equal(t, `isDeleted = false AND id NOT IN ["usr_a", "usr_\"b"]`, userFilter([]string{"usr_a", `usr_"b`}))
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":       json.RawMessage(`"usr_a"`),
		"username": json.RawMessage(`"alice"`),
		"extra":    json.RawMessage(`42`),
	}
	assert.Equal(t, Result{UserID: "usr_a", Username: "alice"}, hitToResult(hit))
	assert.Equal(t, "", decodeString(hit, "extra"))
	assert.Equal(t, "", decodeString(hit, "missing"))
}

func TestRecordFromUser(t *testing.T) {
	rec := RecordFromUser(store.User{ID: "usr_a", Username: "alice", IsDeleted: true})
	assert.Equal(t, UserRecord{ID: "usr_a", Username: "alice", IsDeleted: true}, rec)
}
