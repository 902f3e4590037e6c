package schema

import "fmt"

// ArgKind is the semantic type of a subscription argument.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgIntList
)

func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "Int"
	case ArgIntList:
		return "[Int]"
	default:
		return "unknown"
	}
}

// Arg describes one argument of a subscription definition.
type Arg struct {
	Name     string
	Kind     ArgKind
	Required bool
}

// Filter is a synchronous predicate over an event payload, parameterized
// by the subscription's arguments via closure capture.
type Filter func(p Payload) bool

// Projection shapes an event payload into the client-visible payload.
type Projection func(p Payload) interface{}

// Definition is one schema-declared subscription: its argument schema, the
// setup producing per-topic filters from validated variables, and the
// payload projection.
type Definition struct {
	Name       string
	Args       []Arg
	Setup      func(vars Variables) (map[string]Filter, error)
	Projection Projection
}

// Definitions is the declarative subscription registry, keyed by name.
type Definitions map[string]*Definition

// Lookup returns the definition for name.
func (d Definitions) Lookup(name string) (*Definition, bool) {
	def, ok := d[name]
	return def, ok
}

// Default returns the subscriptions this server declares.
func Default() Definitions {
	defs := Definitions{}
	for _, def := range []*Definition{messageAdded(), groupAdded()} {
		defs[def.Name] = def
	}
	return defs
}

func identity(p Payload) interface{} { return p }

// messageAdded(groupIds: [Int]) fires for every message created in one of
// the given groups. An empty or absent groupIds list matches nothing.
func messageAdded() *Definition {
	return &Definition{
		Name: "messageAdded",
		Args: []Arg{{Name: "groupIds", Kind: ArgIntList}},
		Setup: func(vars Variables) (map[string]Filter, error) {
			ids, _ := vars.IntList("groupIds")
			want := make(map[int64]struct{}, len(ids))
			for _, id := range ids {
				want[id] = struct{}{}
			}
			return map[string]Filter{
				TopicMessageAdded: func(p Payload) bool {
					msg, ok := p.(*Message)
					if !ok {
						return false
					}
					_, member := want[msg.GroupID]
					return member
				},
			}, nil
		},
		Projection: identity,
	}
}

// groupAdded(userId: Int) fires for every new group whose member list
// contains the given user. A group with no members matches nothing.
func groupAdded() *Definition {
	return &Definition{
		Name: "groupAdded",
		Args: []Arg{{Name: "userId", Kind: ArgInt, Required: true}},
		Setup: func(vars Variables) (map[string]Filter, error) {
			userID, ok := vars.Int("userId")
			if !ok {
				return nil, fmt.Errorf("userId is required")
			}
			return map[string]Filter{
				TopicGroupAdded: func(p Payload) bool {
					group, ok := p.(*Group)
					if !ok {
						return false
					}
					for _, u := range group.Users {
						if u.ID == userID {
							return true
						}
					}
					return false
				},
			}, nil
		},
		Projection: identity,
	}
}
