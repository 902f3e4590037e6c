// Package schema declares the chat entities, the event topics, and the
// static subscription definitions that bind arguments to per-topic filters
// and projections.
package schema

import "time"

// Topic names. These are the only topics the bus carries; mutation
// resolvers publish on them and subscription setups listen on them.
const (
	TopicMessageAdded = "messageAdded"
	TopicGroupAdded   = "groupAdded"
)

// Topics returns the full declared topic set.
func Topics() []string {
	return []string{TopicMessageAdded, TopicGroupAdded}
}

// User is a chat user.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Group is a group chat entity. Users is populated on groupAdded events so
// membership filters can run without a store lookup.
type Group struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Users []User `json:"users"`
}

// Message is a message sent by a user to a group.
type Message struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"groupId"`
	UserID    int64     `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Payload is the tagged union of event payloads over the declared topics:
// *Message on messageAdded and *Group on groupAdded. Keeping the union
// closed makes filters and projections total.
type Payload interface {
	isPayload()
}

func (*Message) isPayload() {}
func (*Group) isPayload()   {}
