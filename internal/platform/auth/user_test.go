package auth

import (
	"context"
	"testing"
)

func TestHasAuthority(t *testing.T) {
	u := &User{Authorities: map[string]bool{AuthorityEditExpired: true}}
	if !u.HasAuthority(AuthorityEditExpired) {
		t.Error("explicit authority not honored")
	}
	if u.HasAuthority(AuthorityUncomplete) {
		t.Error("authority granted without being held")
	}

	super := &User{Superuser: true}
	if !super.HasAuthority(AuthorityUncomplete) {
		t.Error("superuser should hold every authority")
	}

	all := &User{Authorities: map[string]bool{AuthorityAll: true}}
	if !all.HasAuthority(AuthorityEditExpired) {
		t.Error("ALL should imply every authority")
	}

	var nilUser *User
	if nilUser.HasAuthority(AuthorityAll) {
		t.Error("nil user must hold nothing")
	}
}

func TestUserContextRoundTrip(t *testing.T) {
	u := &User{UID: "u1", Username: "jdoe"}
	ctx := WithUser(context.Background(), u)
	if got := UserFromContext(ctx); got != u {
		t.Errorf("got %+v, want %+v", got, u)
	}
	if UserFromContext(context.Background()) != nil {
		t.Error("expected nil user for empty context")
	}
}
