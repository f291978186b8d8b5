package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/board/boardcache"
	"taskboard/board/localstore"
	"taskboard/task-api/api"
	"taskboard/task-api/domain"
	"taskboard/task-api/storage"
)

var secret = []byte("board-cli-secret")

func init() {
	color.NoColor = true
}

func newTaskAPI(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.PutUser(context.Background(), domain.User{ID: "alice", Email: "alice@example.com", Name: "Alice"}))

	logger, _ := test.NewNullLogger()
	e := echo.New()
	api.Register(e, domain.NewTaskService(store), api.NewGate(api.NewHS256Auth(secret, "", ""), store), nil, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return srv, token
}

type cli struct {
	t     *testing.T
	url   string
	token string
	dir   string
}

func (c cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", c.url, "--token", c.token, "--cache-dir", c.dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

var createdID = regexp.MustCompile(`created (\S+)`)

func TestCLIScenario(t *testing.T) {
	srv, token := newTaskAPI(t)
	c := cli{t: t, url: srv.URL, token: token, dir: t.TempDir()}

	out := c.mustRun("create", "Spec", "--priority", "High")
	m := createdID.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	out = c.mustRun("show")
	assert.Contains(t, out, "To Do (1)")
	assert.Contains(t, out, "Spec [High]")

	out = c.mustRun("move", id, "done", "0")
	assert.Contains(t, out, "moved "+id+" to done")

	out = c.mustRun("comment", id, "looks", "good")
	assert.Contains(t, out, "comment ")

	out = c.mustRun("show")
	assert.Contains(t, out, "To Do (0)")
	assert.Contains(t, out, "Done (1)")
	assert.Contains(t, out, "1 comments")

	out = c.mustRun("history", id)
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "create by alice")
	assert.Contains(t, out, `{"status":{"from":"todo","to":"done"}}`)
	assert.Contains(t, out, "#3")

	out = c.mustRun("move", id, "done", "0")
	assert.Contains(t, out, "already there")

	out = c.mustRun("delete", id)
	assert.Contains(t, out, "deleted "+id)
	out = c.mustRun("show")
	assert.Contains(t, out, "Done (0)")

	out = c.mustRun("whoami")
	assert.Contains(t, out, "Alice <alice@example.com> (alice)")
}

func TestCLISyncDropsTasksDeletedElsewhere(t *testing.T) {
	srv, token := newTaskAPI(t)
	dir := t.TempDir()
	c := cli{t: t, url: srv.URL, token: token, dir: dir}
	id := createdID.FindStringSubmatch(c.mustRun("create", "ephemeral"))[1]
	c.mustRun("create", "kept")

	// delete through a client with a separate cache
	other := cli{t: t, url: srv.URL, token: token, dir: t.TempDir()}
	other.mustRun("delete", id)

	assert.Contains(t, c.mustRun("show"), "ephemeral")
	out := c.mustRun("sync")
	assert.Contains(t, out, "board updated")
	assert.NotContains(t, out, "ephemeral")
	assert.Contains(t, out, "kept")

	assert.Contains(t, c.mustRun("sync"), "already up to date")
}

func TestCLIOfflineShowsCachedBoard(t *testing.T) {
	srv, token := newTaskAPI(t)
	dir := t.TempDir()
	c := cli{t: t, url: srv.URL, token: token, dir: dir}
	c.mustRun("create", "offline copy")
	srv.Close()

	out := c.mustRun("show")
	assert.Contains(t, out, "offline copy")

	_, err := c.run("sync")
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)

	fresh := cli{t: t, url: srv.URL, token: token, dir: t.TempDir()}
	out = fresh.mustRun("show")
	assert.Contains(t, out, "warning:")
	assert.Contains(t, out, "To Do (0)")
}

func TestCLIMoveFailureKeepsLocalMove(t *testing.T) {
	srv, token := newTaskAPI(t)
	dir := t.TempDir()
	c := cli{t: t, url: srv.URL, token: token, dir: dir}
	id := createdID.FindStringSubmatch(c.mustRun("create", "stuck"))[1]
	srv.Close()

	_, err := c.run("move", id, "inProgress")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)

	var p struct {
		Columns boardcache.Snapshot `json:"columns"`
	}
	require.NoError(t, localstore.NewFile(dir).Load(context.Background(), boardcache.CacheKey, &p))
	require.Len(t, p.Columns.InProgress, 1)
	assert.Equal(t, id, p.Columns.InProgress[0].ID)
}

func TestCLIErrors(t *testing.T) {
	srv, token := newTaskAPI(t)
	c := cli{t: t, url: srv.URL, token: token, dir: t.TempDir()}

	_, err := c.run("move", "missing", "done")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.run("move", "x", "archive")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.run("create", "x", "--due", "tomorrow")
	assert.ErrorIs(t, err, domain.ErrValidation)

	anon := cli{t: t, url: srv.URL, dir: t.TempDir()}
	_, err = anon.run("create", "x")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	t.Setenv("BOARD_API_URL", "http://env:1")
	t.Setenv("BOARD_TIMEOUT", "3s")
	t.Setenv("BOARD_CACHE_DRIVER", "memory")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--api-url", "http://flag:2"}))

	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:2", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "memory", cfg.CacheDriver)
	assert.Equal(t, ".taskboard", cfg.CacheDir)
}

func TestLoadConfigRejectsBadTimeout(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--timeout", "0s"}))
	_, err := loadConfig(flags)
	assert.Error(t, err)
}

func TestOpenCache(t *testing.T) {
	_, closeFn, err := openCache(Config{CacheDriver: "memory"})
	require.NoError(t, err)
	assert.NoError(t, closeFn())

	_, _, err = openCache(Config{CacheDriver: "redis"})
	assert.Error(t, err)

	store, closeFn, err := openCache(Config{CacheDriver: "redis", RedisURL: "redis://localhost:6379/1"})
	require.NoError(t, err)
	assert.IsType(t, &localstore.Redis{}, store)
	assert.NoError(t, closeFn())

	_, _, err = openCache(Config{CacheDriver: "s3"})
	assert.Error(t, err)
}

func TestParseColumn(t *testing.T) {
	for raw, want := range map[string]domain.Status{
		"todo":        domain.StatusTodo,
		"in-progress": domain.StatusInProgress,
		"inProgress":  domain.StatusInProgress,
		"DONE":        domain.StatusDone,
	} {
		got, err := parseColumn(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
}

func TestRenderBoard(t *testing.T) {
	assignee := "bob"
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := boardcache.Group([]domain.Task{{
		ID:       "t1",
		Title:    "Ship",
		Status:   domain.StatusInProgress,
		Assignee: &assignee,
		DueDate:  &due,
		Subtasks: []domain.Subtask{{ID: "s1", Completed: true}, {ID: "s2"}},
	}})

	var out bytes.Buffer
	renderBoard(&out, snap)
	assert.Contains(t, out.String(), "In Progress (1)")
	assert.Contains(t, out.String(), "0. Ship [Medium] t1 @bob due 2025-06-01 1/2")
	assert.Contains(t, out.String(), "To Do (0)\n  -")
}

func TestMain(m *testing.M) {
	for _, k := range []string{"BOARD_API_URL", "BOARD_TOKEN", "BOARD_OWNER", "BOARD_CACHE_DRIVER", "BOARD_CACHE_DIR", "BOARD_REDIS_URL", "BOARD_TIMEOUT", "BOARD_DEBUG"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
