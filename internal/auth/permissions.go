package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Resource names a protected entity kind.
type Resource string

// Action names an operation on a resource.
type Action string

const (
	ResourceAll     Resource = "ALL"
	ResourcePost    Resource = "POST"
	ResourceComment Resource = "COMMENT"
	ResourceUser    Resource = "USER"
	ResourceUpload  Resource = "UPLOAD"
)

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Permission is either Scoped(resource, action) or AllResources. The wildcard
// is stored as (ALL, CREATE) and grants every action on every resource.
type Permission struct {
	Resource Resource
	Action   Action
}

// Scoped builds a permission for a single resource and action.
func Scoped(r Resource, a Action) Permission {
	return Permission{Resource: r, Action: a}
}

// AllResources builds the administrative wildcard.
func AllResources() Permission {
	return Permission{Resource: ResourceAll, Action: ActionCreate}
}

// Wildcard reports whether p grants everything. Only (ALL, CREATE) does.
func (p Permission) Wildcard() bool { return p.Resource == ResourceAll && p.Action == ActionCreate }

func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses the RESOURCE:ACTION form used in token claims. The
// ALL resource is only valid as the ALL:CREATE wildcard.
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	resource = strings.ToUpper(strings.TrimSpace(resource))
	action = strings.ToUpper(strings.TrimSpace(action))
	if !ok || resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: permission %q", ErrInvalidInput, s)
	}
	p := Permission{Resource: Resource(resource), Action: Action(action)}
	if p.Resource == ResourceAll && !p.Wildcard() {
		return Permission{}, fmt.Errorf("%w: permission %q: ALL only combines with CREATE", ErrInvalidInput, s)
	}
	return p, nil
}

// PermissionSet is the effective permission set of a role. The zero value is
// an empty set.
type PermissionSet struct {
	all    bool
	scoped map[Permission]struct{}
}

// NewPermissionSet returns the union of perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{scoped: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if p.Wildcard() {
			set.all = true
			continue
		}
		set.scoped[p] = struct{}{}
	}
	return set
}

// ParsePermissionSet decodes a claim list. Unparseable entries are rejected.
func ParsePermissionSet(values []string) (PermissionSet, error) {
	perms := make([]Permission, 0, len(values))
	for _, v := range values {
		p, err := ParsePermission(v)
		if err != nil {
			return PermissionSet{}, err
		}
		perms = append(perms, p)
	}
	return NewPermissionSet(perms...), nil
}

// Allows reports whether the set grants action on resource. The wildcard
// short-circuits per-resource checks.
func (s PermissionSet) Allows(r Resource, a Action) bool {
	if s.all {
		return true
	}
	_, ok := s.scoped[Permission{Resource: r, Action: a}]
	return ok
}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	if p.Wildcard() {
		return s.all
	}
	return s.Allows(p.Resource, p.Action)
}

// IsAll reports whether the set carries the wildcard.
func (s PermissionSet) IsAll() bool { return s.all }

// Len returns the number of distinct grants, counting the wildcard once.
func (s PermissionSet) Len() int {
	n := len(s.scoped)
	if s.all {
		n++
	}
	return n
}

// Permissions returns the grants in a stable order.
func (s PermissionSet) Permissions() []Permission {
	out := make([]Permission, 0, s.Len())
	if s.all {
		out = append(out, AllResources())
	}
	for p := range s.scoped {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Strings returns the sorted claim encoding of the set.
func (s PermissionSet) Strings() []string {
	perms := s.Permissions()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// Equal reports whether both sets grant exactly the same permissions.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if s.all != other.all || len(s.scoped) != len(other.scoped) {
		return false
	}
	for p := range s.scoped {
		if _, ok := other.scoped[p]; !ok {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BuiltinRole describes a role seeded at boot.
type BuiltinRole struct {
	Name        string
	DisplayName string
	Permissions []Permission
}

// BuiltinPermissions is the permission catalog.
var BuiltinPermissions = []Permission{
	AllResources(),
	Scoped(ResourcePost, ActionCreate),
	Scoped(ResourcePost, ActionRead),
	Scoped(ResourcePost, ActionUpdate),
	Scoped(ResourcePost, ActionDelete),
	Scoped(ResourceComment, ActionCreate),
	Scoped(ResourceComment, ActionRead),
	Scoped(ResourceComment, ActionUpdate),
	Scoped(ResourceComment, ActionDelete),
	Scoped(ResourceUser, ActionRead),
	Scoped(ResourceUser, ActionUpdate),
	Scoped(ResourceUpload, ActionCreate),
}

// BuiltinRoles is the immutable role set.
var BuiltinRoles = []BuiltinRole{
	{
		Name:        RoleAdmin,
		DisplayName: "Administrator",
		Permissions: []Permission{AllResources()},
	},
	{
		Name:        RoleModerator,
		DisplayName: "Moderator",
		Permissions: []Permission{
			Scoped(ResourcePost, ActionRead),
			Scoped(ResourcePost, ActionUpdate),
			Scoped(ResourcePost, ActionDelete),
			Scoped(ResourceComment, ActionRead),
			Scoped(ResourceComment, ActionUpdate),
			Scoped(ResourceComment, ActionDelete),
			Scoped(ResourceUser, ActionRead),
		},
	},
	{
		Name:        RoleUser,
		DisplayName: "User",
		Permissions: []Permission{
			Scoped(ResourcePost, ActionCreate),
			Scoped(ResourcePost, ActionRead),
			Scoped(ResourcePost, ActionUpdate),
			Scoped(ResourceComment, ActionCreate),
			Scoped(ResourceComment, ActionRead),
			Scoped(ResourceUpload, ActionCreate),
		},
	},
}
