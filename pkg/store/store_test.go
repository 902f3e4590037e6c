package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		u, err := s.CreateUser(ctx, string(rune('a'+i))+"@example.com", "user"+string(rune('a'+i)))
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestStore_CreateAndLoadUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "ada@example.com", "ada")
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", byID.Username)

	byEmail, err := s.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.UserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateGroupPopulatesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, 3)

	require.NoError(t, s.AddFriend(ctx, ids[0], ids[1]))
	// ids[2] is not a friend of ids[0]

	g, err := s.CreateGroup(ctx, "book club", ids[0], []int64{ids[1], ids[2]})
	require.NoError(t, err)
	require.Len(t, g.Users, 2, "creator plus friends only")
	assert.Equal(t, ids[0], g.Users[0].ID)
	assert.Equal(t, ids[1], g.Users[1].ID)

	loaded, err := s.GroupByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "book club", loaded.Name)
	assert.Len(t, loaded.Users, 2)
}

func TestStore_CreateGroupUnknownCreator(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateGroup(context.Background(), "x", 42, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, 1)
	g, err := s.CreateGroup(ctx, "general", ids[0], nil)
	require.NoError(t, err)

	m, err := s.CreateMessage(ctx, ids[0], g.ID, "hello")
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Equal(t, g.ID, m.GroupID)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestStore_CreateMessageUnknownGroupFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, 1)

	_, err := s.CreateMessage(ctx, ids[0], 999, "hello")
	assert.Error(t, err, "foreign keys must reject a missing group")
}

func TestStore_MessagesForGroupNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, 1)
	g, err := s.CreateGroup(ctx, "general", ids[0], nil)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.CreateMessage(ctx, ids[0], g.ID, text)
		require.NoError(t, err)
	}

	msgs, err := s.MessagesForGroup(ctx, g.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "one", msgs[2].Text)

	page, err := s.MessagesForGroup(ctx, g.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Text)
}

func TestStore_GroupsAndFriends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, 2)
	require.NoError(t, s.AddFriend(ctx, ids[0], ids[1]))

	_, err := s.CreateGroup(ctx, "g1", ids[0], []int64{ids[1]})
	require.NoError(t, err)
	_, err = s.CreateGroup(ctx, "g2", ids[0], nil)
	require.NoError(t, err)

	groups, err := s.GroupsForUser(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	groups, err = s.GroupsForUser(ctx, ids[1])
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	friends, err := s.FriendsOfUser(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, ids[0], friends[0].ID, "friendship is recorded mutually")
}
