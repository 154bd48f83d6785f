package session

import "testing"

func TestTransition(t *testing.T) {
	cases := []struct {
		name string
		from Role
		ev   roleEvent
		want Role
	}{
		{"unknown foreign state", RoleUnknown, eventForeignState, RoleMirror},
		{"mirror foreign state", RoleMirror, eventForeignState, RoleMirror},
		{"owner foreign state demotes", RoleOwner, eventForeignState, RoleMirror},
		{"unknown foreign owner", RoleUnknown, eventForeignOwner, RoleMirror},
		{"owner foreign owner demotes", RoleOwner, eventForeignOwner, RoleMirror},
		{"unknown promoted", RoleUnknown, eventPromoted, RoleOwner},
		{"mirror promoted", RoleMirror, eventPromoted, RoleOwner},
		{"owner promoted stays", RoleOwner, eventPromoted, RoleOwner},
		{"unknown silence settles mirror", RoleUnknown, eventSilence, RoleMirror},
		{"mirror silence no-op", RoleMirror, eventSilence, RoleMirror},
		{"owner silence no-op", RoleOwner, eventSilence, RoleOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := transition(tc.from, tc.ev); got != tc.want {
				t.Fatalf("transition(%v, %d) = %v, want %v", tc.from, tc.ev, got, tc.want)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	if RoleOwner.String() != "owner" || RoleMirror.String() != "mirror" || RoleUnknown.String() != "unknown" {
		t.Fatalf("unexpected role strings: %v %v %v", RoleOwner, RoleMirror, RoleUnknown)
	}
}
