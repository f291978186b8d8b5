package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	testutil "taskboard/tests/utils"
)

func TestUserIDs(t *testing.T) {
	if got := userIDs(3, "perf", 5, nil); strings.Join(got, ",") != "perf-5,perf-6,perf-7" {
		t.Fatalf("unexpected ids: %v", got)
	}
	if got := userIDs(1, "user", 1, nil); len(got) != 1 || got[0] != "user" {
		t.Fatalf("unexpected single id: %v", got)
	}
	if got := userIDs(1, "user", 1, []string{"alice"}); got[0] != "alice" {
		t.Fatalf("explicit id ignored: %v", got)
	}
}

func TestGenerateAndWriteTokens(t *testing.T) {
	sign := func(id string) (string, error) { return testutil.SignToken([]byte("k"), id, time.Minute) }
	tokens, err := generateTokens(sign, []string{"a", "b"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if seedUsers(tokens) != "a:a@example.com:a,b:b@example.com:b" {
		t.Fatalf("unexpected seed users: %s", seedUsers(tokens))
	}

	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, tokens); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var back []issued
	if err := sonic.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back) != 2 || back[1].UserID != "b" || back[1].Token == "" {
		t.Fatalf("unexpected file content: %s", data)
	}
}
