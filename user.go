package drover

import "context"

// User is the owning principal of an agent. Immutable after the agent is
// created; persisted as the id alone and rehydrated through a UserStore.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UserStore looks up users by id during context rehydration.
type UserStore interface {
	User(ctx context.Context, id string) (User, error)
}

// StaticUsers is a UserStore over a fixed set of users. Unknown ids resolve
// to a bare User carrying only the id, so contexts written by another
// process remain loadable.
type StaticUsers map[string]User

var _ UserStore = StaticUsers(nil)

func (s StaticUsers) User(_ context.Context, id string) (User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return User{ID: id}, nil
}
