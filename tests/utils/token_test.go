package testutil

import (
	"testing"
	"time"

	"taskboard/task-api/api"
)

func TestTestTokenVerifiesWithLocalAuth(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "shared")
	t.Setenv("TEST_JWT_SECRET", "")

	token, err := TestToken("alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	sub, err := api.NewHS256Auth([]byte("shared"), "", "").Subject([]byte(token))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestTestTokenFallsBackToTestSecret(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	t.Setenv("TEST_JWT_SECRET", "legacy")
	token, err := TestToken("bob")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := api.NewHS256Auth([]byte("legacy"), "", "").Subject([]byte(token)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestTestTokenRequiresSecret(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	t.Setenv("TEST_JWT_SECRET", "")
	if _, err := TestToken("alice"); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestSignTokenExpired(t *testing.T) {
	token, err := SignToken([]byte("s"), "alice", -2*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := api.NewHS256Auth([]byte("s"), "", "").Subject([]byte(token)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
	if _, err := SignToken([]byte("s"), "", time.Hour); err == nil {
		t.Fatal("expected empty user id to be rejected")
	}
}
