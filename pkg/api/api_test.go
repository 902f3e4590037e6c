package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattyapp/chatty-server/pkg/schema"
	"github.com/chattyapp/chatty-server/pkg/store"
)

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic   string
	payload interface{}
}

func (p *capturePublisher) Publish(topic string, payload interface{}) {
	p.mu.Lock()
	p.events = append(p.events, publishedEvent{topic: topic, payload: payload})
	p.mu.Unlock()
}

func (p *capturePublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newTestAPI(t *testing.T) (*httptest.Server, *store.Store, *capturePublisher) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pub := &capturePublisher{}
	ts := httptest.NewServer(New(st, pub, zerolog.Nop()).Routes())
	t.Cleanup(ts.Close)
	return ts, st, pub
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateMessage_PublishesExactlyOneEvent(t *testing.T) {
	ts, st, pub := newTestAPI(t)
	ctx := context.Background()

	u, err := st.CreateUser(ctx, "ada@example.com", "ada")
	require.NoError(t, err)
	g, err := st.CreateGroup(ctx, "general", u.ID, nil)
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]interface{}{
		"userId": u.ID, "groupId": g.ID, "text": "hi",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created schema.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "hi", created.Text)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, schema.TopicMessageAdded, events[0].topic)
	msg, ok := events[0].payload.(*schema.Message)
	require.True(t, ok)
	assert.Equal(t, created.ID, msg.ID)
}

func TestCreateMessage_FailurePublishesNothing(t *testing.T) {
	ts, _, pub := newTestAPI(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]interface{}{
		"userId": 1, "groupId": 999, "text": "hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, pub.all())

	resp = postJSON(t, ts.URL+"/api/messages", map[string]interface{}{
		"userId": 1, "groupId": 1, "text": "",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, pub.all())
}

func TestCreateGroup_PublishesGroupWithMembers(t *testing.T) {
	ts, st, pub := newTestAPI(t)
	ctx := context.Background()

	u1, err := st.CreateUser(ctx, "a@example.com", "a")
	require.NoError(t, err)
	u2, err := st.CreateUser(ctx, "b@example.com", "b")
	require.NoError(t, err)
	require.NoError(t, st.AddFriend(ctx, u1.ID, u2.ID))

	resp := postJSON(t, ts.URL+"/api/groups", map[string]interface{}{
		"name": "book club", "userId": u1.ID, "userIds": []int64{u2.ID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, schema.TopicGroupAdded, events[0].topic)
	group, ok := events[0].payload.(*schema.Group)
	require.True(t, ok)
	assert.Len(t, group.Users, 2, "the published group must carry its member list for membership filters")
}

func TestCreateGroup_UnknownUser(t *testing.T) {
	ts, _, pub := newTestAPI(t)

	resp := postJSON(t, ts.URL+"/api/groups", map[string]interface{}{
		"name": "x", "userId": 42,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, pub.all())
}

func TestQueries(t *testing.T) {
	ts, st, _ := newTestAPI(t)
	ctx := context.Background()

	u, err := st.CreateUser(ctx, "ada@example.com", "ada")
	require.NoError(t, err)
	g, err := st.CreateGroup(ctx, "general", u.ID, nil)
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, u.ID, g.ID, "hello")
	require.NoError(t, err)

	t.Run("group by id", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/groups/1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got schema.Group
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, "general", got.Name)
		assert.Len(t, got.Users, 1)
	})

	t.Run("messages by group", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/messages?groupId=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got []schema.Message
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "hello", got[0].Text)
	})

	t.Run("user by email", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/users?email=ada@example.com")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing group is 404", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/groups/99")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
