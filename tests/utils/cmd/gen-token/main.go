package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	testutil "taskboard/tests/utils"
)

type issued struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		secret = flag.String("secret", "", "signing secret; defaults to LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
		seeds  = flag.Bool("seed-users", false, "also print a SEED_USERS value for task-api")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	sign := testutil.TestToken
	if *secret != "" {
		key := []byte(*secret)
		sign = func(userID string) (string, error) { return testutil.SignToken(key, userID, *ttl) }
	}

	tokens, err := generateTokens(sign, userIDs(*count, *prefix, *start, args))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}

	fmt.Print(tokens[0].Token)
	if *seeds {
		fmt.Fprintf(os.Stderr, "\nSEED_USERS=%s\n", seedUsers(tokens))
	}
}

func userIDs(count int, prefix string, start int, args []string) []string {
	if len(args) > 0 {
		return []string{args[0]}
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func generateTokens(sign func(string) (string, error), ids []string) ([]issued, error) {
	out := make([]issued, len(ids))
	for i, id := range ids {
		tok, err := sign(id)
		if err != nil {
			return nil, err
		}
		out[i] = issued{UserID: id, Token: tok}
	}
	return out, nil
}

// seedUsers renders the id:email:name list task-api reads from SEED_USERS.
func seedUsers(tokens []issued) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = fmt.Sprintf("%s:%s@example.com:%s", t.UserID, t.UserID, t.UserID)
	}
	return strings.Join(parts, ",")
}

func writeTokens(path string, tokens []issued) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.ConfigStd.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
