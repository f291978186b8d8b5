package main

import (
	"testing"
	"time"
)

func TestParseSeedUsers(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	users, err := parseSeedUsers(" alice:alice@example.com:Alice Doe , bob:bob@example.com ,", now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ID != "alice" || users[0].Email != "alice@example.com" || users[0].Name != "Alice Doe" {
		t.Fatalf("unexpected first user: %+v", users[0])
	}
	if users[1].Name != "bob" {
		t.Fatalf("expected name to default to id, got %q", users[1].Name)
	}
	if !users[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected timestamp: %v", users[0].CreatedAt)
	}
}

func TestParseSeedUsersRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"alice", ":a@b.c", "alice:"} {
		if _, err := parseSeedUsers(raw, time.Now()); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions("redis://:secret@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts = redisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" || opts.Password != "pw" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}
}

func TestOpenStoreMemoryAndUnknown(t *testing.T) {
	if _, err := openStore("memory"); err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, err := openStore("mongo"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
