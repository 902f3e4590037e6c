// Package store is the relational chat store backing the query and
// mutation resolvers. It is sqlite-backed and deliberately thin; the
// subscription core never touches it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/observability/prometheus"
	"github.com/chattyapp/chatty-server/pkg/schema"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("store: not found")

const ddl = `
CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	email    TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	group_id   INTEGER NOT NULL REFERENCES groups(id),
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS group_users (
	group_id INTEGER NOT NULL REFERENCES groups(id),
	user_id  INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (group_id, user_id)
);
CREATE TABLE IF NOT EXISTS friends (
	user_id   INTEGER NOT NULL REFERENCES users(id),
	friend_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (user_id, friend_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at DESC);
`

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "store").Logger()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) observe(op string, start time.Time) {
	prometheus.GetMetrics().StoreQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, email, username string) (*schema.User, error) {
	defer s.observe("create_user", time.Now())
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (email, username) VALUES (?, ?)`, email, username)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &schema.User{ID: id, Email: email, Username: username}, nil
}

// AddFriend records a mutual friendship.
func (s *Store) AddFriend(ctx context.Context, userID, friendID int64) error {
	defer s.observe("add_friend", time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?), (?, ?)`,
		userID, friendID, friendID, userID)
	if err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	return nil
}

// CreateMessage inserts a message and returns it. The referenced user and
// group must exist.
func (s *Store) CreateMessage(ctx context.Context, userID, groupID int64, text string) (*schema.Message, error) {
	defer s.observe("create_message", time.Now())
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, group_id, text, created_at) VALUES (?, ?, ?, ?)`,
		userID, groupID, text, now)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	id, _ := res.LastInsertId()
	return &schema.Message{ID: id, GroupID: groupID, UserID: userID, Text: text, CreatedAt: now}, nil
}

// CreateGroup creates a group whose members are the creating user plus
// those of userIDs that are the creator's friends; strangers in the list
// are skipped. The returned group has Users populated.
func (s *Store) CreateGroup(ctx context.Context, name string, userID int64, userIDs []int64) (*schema.Group, error) {
	defer s.observe("create_group", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	creator, err := userByIDTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	members := []schema.User{*creator}
	for _, fid := range userIDs {
		if fid == userID {
			continue
		}
		var u schema.User
		err := tx.QueryRowContext(ctx,
			`SELECT u.id, u.email, u.username FROM users u
			 JOIN friends f ON f.friend_id = u.id
			 WHERE f.user_id = ? AND u.id = ?`, userID, fid).
			Scan(&u.ID, &u.Email, &u.Username)
		if errors.Is(err, sql.ErrNoRows) {
			continue // not a friend, silently excluded
		}
		if err != nil {
			return nil, fmt.Errorf("load friend %d: %w", fid, err)
		}
		members = append(members, u)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO groups (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	groupID, _ := res.LastInsertId()
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_users (group_id, user_id) VALUES (?, ?)`, groupID, m.ID); err != nil {
			return nil, fmt.Errorf("add member %d: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &schema.Group{ID: groupID, Name: name, Users: members}, nil
}

// GroupByID loads a group with its member list.
func (s *Store) GroupByID(ctx context.Context, id int64) (*schema.Group, error) {
	defer s.observe("group_by_id", time.Now())
	g := &schema.Group{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM groups WHERE id = ?`, id).Scan(&g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	g.Users, err = s.UsersInGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// UsersInGroup lists the members of a group.
func (s *Store) UsersInGroup(ctx context.Context, groupID int64) ([]schema.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.username FROM users u
		 JOIN group_users gu ON gu.user_id = u.id
		 WHERE gu.group_id = ? ORDER BY u.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var users []schema.User
	for rows.Next() {
		var u schema.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MessagesForGroup lists a group's messages newest first.
func (s *Store) MessagesForGroup(ctx context.Context, groupID int64, limit, offset int) ([]*schema.Message, error) {
	defer s.observe("messages_for_group", time.Now())
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, group_id, text, created_at FROM messages
		 WHERE group_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesForUser lists a user's messages newest first.
func (s *Store) MessagesForUser(ctx context.Context, userID int64) ([]*schema.Message, error) {
	defer s.observe("messages_for_user", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, group_id, text, created_at FROM messages
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*schema.Message, error) {
	var msgs []*schema.Message
	for rows.Next() {
		var m schema.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// UserByID loads a user.
func (s *Store) UserByID(ctx context.Context, id int64) (*schema.User, error) {
	defer s.observe("user_by_id", time.Now())
	return s.userBy(ctx, `id = ?`, id)
}

// UserByEmail loads a user by unique email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*schema.User, error) {
	defer s.observe("user_by_email", time.Now())
	return s.userBy(ctx, `email = ?`, email)
}

func (s *Store) userBy(ctx context.Context, where string, arg interface{}) (*schema.User, error) {
	var u schema.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, username FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func userByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*schema.User, error) {
	var u schema.User
	err := tx.QueryRowContext(ctx,
		`SELECT id, email, username FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// GroupsForUser lists the groups a user belongs to, without member lists.
func (s *Store) GroupsForUser(ctx context.Context, userID int64) ([]*schema.Group, error) {
	defer s.observe("groups_for_user", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name FROM groups g
		 JOIN group_users gu ON gu.group_id = g.id
		 WHERE gu.user_id = ? ORDER BY g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var groups []*schema.Group
	for rows.Next() {
		var g schema.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// FriendsOfUser lists a user's friends.
func (s *Store) FriendsOfUser(ctx context.Context, userID int64) ([]schema.User, error) {
	defer s.observe("friends_of_user", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.username FROM users u
		 JOIN friends f ON f.friend_id = u.id
		 WHERE f.user_id = ? ORDER BY u.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()
	var users []schema.User
	for rows.Next() {
		var u schema.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
