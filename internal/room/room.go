// Package room holds the relay's only durable state: which users currently
// occupy which room. Rooms are ephemeral; every write refreshes a TTL and
// expiry is the only deletion mechanism.
package room

import (
	"errors"
	"fmt"
)

// MaxUsers is the room capacity. The pairing protocol is strictly two-party.
const MaxUsers = 2

var (
	ErrNotFound      = errors.New("room: not found")
	ErrFull          = errors.New("room: full")
	ErrAlreadyJoined = errors.New("room: user already joined")
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (u User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("room: user id must not be empty")
	}
	if u.Username == "" {
		return fmt.Errorf("room: username must not be empty")
	}
	return nil
}

// Room is the stored value. Host is the first joiner; when the host leaves,
// an arbitrary remaining user is promoted.
type Room struct {
	Host  *User           `json:"host,omitempty"`
	Users map[string]User `json:"users"`
}

func New() Room {
	return Room{Users: make(map[string]User)}
}

// Add inserts the user, assigning host if the room has none. Re-joining with
// an id already present is an error, not an upsert.
func (r *Room) Add(u User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if r.Users == nil {
		r.Users = make(map[string]User)
	}
	if _, ok := r.Users[u.ID]; ok {
		return ErrAlreadyJoined
	}
	if len(r.Users) >= MaxUsers {
		return ErrFull
	}
	r.Users[u.ID] = u
	if r.Host == nil {
		host := u
		r.Host = &host
	}
	return nil
}

// Remove deletes the user. If the departing user was host, whichever user the
// map yields first is promoted; callers must not depend on which one. Removing
// an absent user is a no-op.
func (r *Room) Remove(id string) {
	if r.Users == nil {
		return
	}
	delete(r.Users, id)
	if r.Host != nil && r.Host.ID == id {
		r.Host = nil
		for _, u := range r.Users {
			promoted := u
			r.Host = &promoted
			break
		}
	}
}

func (r Room) IsHost(id string) bool {
	return r.Host != nil && r.Host.ID == id
}

// Occupant returns a user other than the given id, if any. With the two-user
// capacity this is "the peer".
func (r Room) Occupant(excludeID string) (User, bool) {
	for id, u := range r.Users {
		if id != excludeID {
			return u, true
		}
	}
	return User{}, false
}
