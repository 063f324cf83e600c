// Package moderation decides who may moderate whom and applies moderation
// actions together with their account, audit and realtime effects.
package moderation

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"huddle/internal/models"

	"gopkg.in/yaml.v3"
)

// Permission is a single moderation capability.
type Permission string

const (
	PermWarnUsers      Permission = "warn_users"
	PermDeleteMessages Permission = "delete_messages"
	PermSuspendUsers   Permission = "suspend_users"
	PermViewAuditLog   Permission = "view_audit_log"
	PermBanUsers       Permission = "ban_users"
)

var known = map[Permission]bool{
	PermWarnUsers:      true,
	PermDeleteMessages: true,
	PermSuspendUsers:   true,
	PermViewAuditLog:   true,
	PermBanUsers:       true,
}

// Bundles maps a moderator role type to its granted permissions.
type Bundles map[models.ModeratorRoleType][]Permission

// DefaultBundles returns the built-in bundles. Each tier includes the one below it.
func DefaultBundles() Bundles {
	junior := []Permission{PermWarnUsers, PermDeleteMessages}
	senior := append(append([]Permission{}, junior...), PermSuspendUsers, PermViewAuditLog)
	lead := append(append([]Permission{}, senior...), PermBanUsers)
	return Bundles{
		models.ModeratorJunior: junior,
		models.ModeratorSenior: senior,
		models.ModeratorLead:   lead,
	}
}

// LoadBundles reads a YAML override of the form
//
//	junior: [warn_users, delete_messages]
//	senior: [...]
//
// Role types missing from the file keep their defaults. An empty path
// returns the defaults.
func LoadBundles(path string) (Bundles, error) {
	bundles := DefaultBundles()
	if path == "" {
		return bundles, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read moderation bundles: %w", err)
	}
	var override map[string][]string
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse moderation bundles: %w", err)
	}
	for name, perms := range override {
		rt := models.ModeratorRoleType(name)
		if !rt.Valid() {
			return nil, fmt.Errorf("unknown moderator role type %q", name)
		}
		parsed, err := ParsePermissions(perms)
		if err != nil {
			return nil, err
		}
		bundles[rt] = parsed
	}
	return bundles, nil
}

// ParsePermissions validates a list of permission names.
func ParsePermissions(names []string) ([]Permission, error) {
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		p := Permission(n)
		if !known[p] {
			return nil, fmt.Errorf("unknown permission %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// Actor is a user together with their effective permission set.
type Actor struct {
	User     *models.User
	Bundle   models.ModeratorRoleType
	perms    map[Permission]bool
	allPerms bool
}

// Has reports whether the actor holds p. Admins hold every permission.
func (a Actor) Has(p Permission) bool {
	if a.User == nil {
		return false
	}
	return a.allPerms || a.perms[p]
}

// Permissions lists the effective permissions in stable order.
func (a Actor) Permissions() []string {
	out := make([]string, 0, len(known))
	for p := range known {
		if a.Has(p) {
			out = append(out, string(p))
		}
	}
	sort.Strings(out)
	return out
}

// IsLead reports whether the actor may act on other moderators.
func (a Actor) IsLead() bool {
	if a.User == nil {
		return false
	}
	return a.allPerms || a.Bundle == models.ModeratorLead
}

// Policy resolves permissions from bundles.
type Policy struct {
	bundles Bundles
}

// NewPolicy creates a Policy. A nil bundles value uses DefaultBundles.
func NewPolicy(bundles Bundles) *Policy {
	if bundles == nil {
		bundles = DefaultBundles()
	}
	return &Policy{bundles: bundles}
}

// ActorFor builds the effective permission set of user. profile may be nil;
// a moderator without a profile holds nothing. Extra permissions are a
// comma-separated list added on top of the bundle.
func (p *Policy) ActorFor(user *models.User, profile *models.ModeratorProfile) Actor {
	a := Actor{User: user, perms: map[Permission]bool{}}
	if user == nil {
		return a
	}
	switch user.Role {
	case models.RoleAdmin:
		a.allPerms = true
	case models.RoleModerator:
		if profile == nil {
			return a
		}
		a.Bundle = profile.RoleType
		for _, perm := range p.bundles[profile.RoleType] {
			a.perms[perm] = true
		}
		for _, extra := range strings.Split(profile.ExtraPermissions, ",") {
			extra = strings.TrimSpace(extra)
			if known[Permission(extra)] {
				a.perms[Permission(extra)] = true
			}
		}
	}
	return a
}

func isStaff(u *models.User) bool {
	return u.Role == models.RoleAdmin || u.Role == models.RoleModerator
}

// outranks applies the hierarchy rule shared by suspend and ban: admins are
// untouchable, and moderators can only be acted on by leads or admins.
func outranks(actor Actor, target *models.User) bool {
	if target.Role == models.RoleAdmin {
		return false
	}
	if target.Role == models.RoleModerator {
		return actor.IsLead()
	}
	return true
}

// CanWarn reports whether actor may warn target.
func CanWarn(actor Actor, target *models.User) bool {
	return actor.User != nil && isStaff(actor.User) && actor.Has(PermWarnUsers) && target.Role != models.RoleAdmin
}

// CanSuspend reports whether actor may suspend target.
func CanSuspend(actor Actor, target *models.User) bool {
	return actor.Has(PermSuspendUsers) && outranks(actor, target)
}

// CanBan reports whether actor may ban target.
func CanBan(actor Actor, target *models.User) bool {
	return actor.Has(PermBanUsers) && outranks(actor, target)
}

// CanDeleteMessage reports whether actor may delete other users' messages.
func CanDeleteMessage(actor Actor) bool {
	return actor.Has(PermDeleteMessages)
}

// CanModerateUser combines the predicate for action with the self rule.
func CanModerateUser(actor Actor, target *models.User, action models.ModerationActionType) bool {
	if actor.User == nil || target == nil || actor.User.ID == target.ID {
		return false
	}
	switch action {
	case models.ActionWarning:
		return CanWarn(actor, target)
	case models.ActionSuspend:
		return CanSuspend(actor, target)
	case models.ActionBan:
		return CanBan(actor, target)
	case models.ActionDeleteMessage:
		return CanDeleteMessage(actor)
	}
	return false
}
