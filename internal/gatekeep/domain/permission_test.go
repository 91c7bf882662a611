package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParsePermission(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Permission
		wantErr bool
	}{
		{in: "document:read", want: domain.Permission{Scope: domain.ScopeWorkspace, Resource: "document", Action: "read"}},
		{in: "global:*:*", want: domain.Permission{Scope: domain.ScopeGlobal, Resource: "*", Action: "*"}},
		{in: "GLOBAL:roles:manage", want: domain.Permission{Scope: domain.ScopeGlobal, Resource: "roles", Action: "manage"}},
		{in: "resource:document/d1:write", want: domain.Permission{Scope: domain.ScopeResource, Resource: "document", ResourceID: "d1", Action: "write"}},
		{in: "resource:document:write", wantErr: true},
		{in: "workspace:document/d1:write", wantErr: true},
		{in: "planet:document:write", wantErr: true},
		{in: "document", wantErr: true},
		{in: "a:b:c:d", wantErr: true},
		{in: ":read", wantErr: true},
		{in: "resource:document/*:read", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := domain.ParsePermission(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			again, err := domain.ParsePermission(got.String())
			require.NoError(t, err)
			require.Equal(t, got, again)
		})
	}
}

func TestPermission_Grants(t *testing.T) {
	const ws = "ws1"
	read := domain.PermissionCheck{Resource: "document", Action: "read"}
	readD1 := domain.PermissionCheck{Resource: "document", ResourceID: "d1", Action: "read"}
	readOther := domain.PermissionCheck{Resource: "document", Action: "read", WorkspaceID: "ws2"}

	tests := []struct {
		perm  string
		check domain.PermissionCheck
		want  bool
	}{
		{"document:read", read, true},
		{"document:read", readD1, true},
		{"document:read", readOther, false},
		{"document:write", read, false},
		{"folder:read", read, false},
		{"document:*", read, true},
		{"*:read", read, true},
		{"global:document:read", readOther, true},
		{"resource:document/d1:read", readD1, true},
		{"resource:document/d1:read", read, false},
		{"resource:document/d2:read", readD1, false},
		{"resource:document/d1:read", domain.PermissionCheck{Resource: "document", ResourceID: "d1", Action: "read", WorkspaceID: "ws2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.perm, func(t *testing.T) {
			p := domain.MustParsePermission(tt.perm)
			require.Equal(t, tt.want, p.Grants(ws, tt.check))
		})
	}
}

func TestSortPermissions_DeduplicatesAndOrdersByScope(t *testing.T) {
	perms := []domain.Permission{
		domain.MustParsePermission("resource:document/d1:read"),
		domain.MustParsePermission("document:read"),
		domain.MustParsePermission("global:audit:read"),
		domain.MustParsePermission("document:read"),
	}

	got := domain.PermissionStrings(domain.SortPermissions(perms))
	require.Equal(t, []string{
		"global:audit:read",
		"workspace:document:read",
		"resource:document/d1:read",
	}, got)
}

func TestPermission_EncodesAsString(t *testing.T) {
	role := domain.Role{Name: "viewer", Permissions: []domain.Permission{domain.MustParsePermission("document:read")}}

	b, err := json.Marshal(role)
	require.NoError(t, err)
	require.Contains(t, string(b), `"permissions":["workspace:document:read"]`)

	var back domain.Role
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, role.Permissions, back.Permissions)

	var seed domain.SeedRole
	require.NoError(t, yaml.Unmarshal([]byte("name: editor\npermissions: [\"document:write\", \"global:audit:read\"]\n"), &seed))
	require.Equal(t, "workspace:document:write", seed.Permissions[0].String())
	require.Equal(t, domain.ScopeGlobal, seed.Permissions[1].Scope)

	require.Error(t, json.Unmarshal([]byte(`{"permissions":["bogus"]}`), &back))
}
