package auth

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPermissionSetWildcardShortCircuits(t *testing.T) {
	set := NewPermissionSet(AllResources())
	for _, r := range []Resource{ResourcePost, ResourceComment, ResourceUser, ResourceUpload, "ANYTHING"} {
		for _, a := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
			if !set.Allows(r, a) {
				t.Fatalf("wildcard denied %s:%s", r, a)
			}
		}
	}
	if !set.IsAll() || set.Len() != 1 {
		t.Fatalf("unexpected set state: all=%v len=%d", set.IsAll(), set.Len())
	}
}

func TestPermissionSetIsUnionOfGrants(t *testing.T) {
	set := NewPermissionSet(
		Scoped(ResourcePost, ActionRead),
		Scoped(ResourcePost, ActionRead),
		Scoped(ResourceComment, ActionCreate),
	)
	if set.Len() != 2 {
		t.Fatalf("expected 2 grants, got %d", set.Len())
	}
	if !set.Allows(ResourcePost, ActionRead) || set.Allows(ResourcePost, ActionDelete) {
		t.Fatalf("unexpected grants %v", set.Strings())
	}
	var zero PermissionSet
	if zero.Allows(ResourcePost, ActionRead) || zero.Len() != 0 {
		t.Fatalf("zero set grants something")
	}
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission(" post : read ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p != Scoped(ResourcePost, ActionRead) {
		t.Fatalf("got %v", p)
	}
	for _, bad := range []string{"", "POST", ":READ", "POST:"} {
		if _, err := ParsePermission(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestAllResourceOnlyGrantsAsCreate(t *testing.T) {
	for _, v := range []string{"ALL:READ", "all:delete", "ALL:UPDATE"} {
		if _, err := ParsePermission(v); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", v, err)
		}
		if _, err := ParsePermissionSet([]string{v}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: set accepted it, err=%v", v, err)
		}
	}

	set := NewPermissionSet(Permission{Resource: ResourceAll, Action: ActionRead})
	if set.IsAll() {
		t.Fatalf("ALL:READ became the wildcard")
	}
	if set.Allows(ResourcePost, ActionDelete) || set.Allows(ResourceUser, ActionUpdate) {
		t.Fatalf("ALL:READ granted scoped actions: %v", set.Strings())
	}
	if set.Has(AllResources()) {
		t.Fatalf("ALL:READ satisfies the admin check")
	}

	wild, err := ParsePermissionSet([]string{"all:create"})
	if err != nil {
		t.Fatalf("parse wildcard: %v", err)
	}
	if !wild.IsAll() || !wild.Has(AllResources()) {
		t.Fatalf("ALL:CREATE is not the wildcard: %v", wild.Strings())
	}
}

func TestPermissionSetJSON(t *testing.T) {
	set := NewPermissionSet(Scoped(ResourceUpload, ActionCreate), Scoped(ResourceComment, ActionRead))
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["COMMENT:READ","UPLOAD:CREATE"]` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var decoded PermissionSet
	if err := json.Unmarshal([]byte(`["ALL:CREATE"]`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsAll() {
		t.Fatalf("wildcard lost in decoding")
	}
}

func TestBuiltinRolesUseCatalog(t *testing.T) {
	catalog := NewPermissionSet(BuiltinPermissions...)
	for _, role := range BuiltinRoles {
		for _, p := range role.Permissions {
			if p.Wildcard() {
				if !catalog.IsAll() {
					t.Fatalf("catalog lacks wildcard used by %s", role.Name)
				}
				continue
			}
			if !catalog.Has(p) {
				t.Fatalf("role %s uses %s outside the catalog", role.Name, p)
			}
		}
	}
}
