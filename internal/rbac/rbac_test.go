package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "outsider read", role: RoleNone, action: ActionRead, allow: false},
		{name: "outsider leave", role: RoleNone, action: ActionLeave, allow: false},
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member post", role: RoleMember, action: ActionPost, allow: true},
		{name: "member leave", role: RoleMember, action: ActionLeave, allow: true},
		{name: "member manage members", role: RoleMember, action: ActionManageMembers, allow: false},
		{name: "member moderate", role: RoleMember, action: ActionModerate, allow: false},
		{name: "admin manage admins", role: RoleAdmin, action: ActionManageAdmins, allow: true},
		{name: "admin moderate", role: RoleAdmin, action: ActionModerate, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestRoleIn(t *testing.T) {
	users := []string{"a", "b", "c"}
	admins := []string{"a"}

	if got := RoleIn("a", users, admins); got != RoleAdmin {
		t.Fatalf("RoleIn(a) = %q, want admin", got)
	}
	if got := RoleIn("b", users, admins); got != RoleMember {
		t.Fatalf("RoleIn(b) = %q, want member", got)
	}
	if got := RoleIn("z", users, admins); got != RoleNone {
		t.Fatalf("RoleIn(z) = %q, want none", got)
	}
}
