// Package identity maps an already-established caller identity to its chat
// role. It does not authenticate.
package identity

import (
	"context"
	"errors"
	"strings"

	"supportchat/server/model"
)

// ErrUnresolved is returned when an identity is empty or unknown.
var ErrUnresolved = errors.New("identity unresolved")

// Identity is a resolved participant.
type Identity struct {
	ID          string
	Role        model.Role
	DisplayName string
}

// Resolver resolves identity strings.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Identity, error)
}

// StaticResolver treats every non-empty identity as a user, except those
// configured as admins.
type StaticResolver struct {
	admins map[string]struct{}
	names  map[string]string
}

func NewStaticResolver(adminIDs []string, names map[string]string) *StaticResolver {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	copied := make(map[string]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	return &StaticResolver{admins: admins, names: copied}
}

func (s *StaticResolver) Resolve(_ context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, ErrUnresolved
	}
	role := model.RoleUser
	if _, ok := s.admins[id]; ok {
		role = model.RoleAdmin
	}
	return Identity{ID: id, Role: role, DisplayName: s.names[id]}, nil
}
