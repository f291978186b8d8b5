package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/task-api/api"
	"taskboard/task-api/domain"
	"taskboard/task-api/storage"
)

var secret = []byte("remote-test-secret")

func token(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return signed
}

// newTaskAPI serves the real handlers over an in-memory store.
func newTaskAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.PutUser(context.Background(), domain.User{ID: "alice", Email: "alice@example.com", Name: "Alice"}))

	logger, _ := test.NewNullLogger()
	e := echo.New()
	api.Register(e, domain.NewTaskService(store), api.NewGate(api.NewHS256Auth(secret, "", ""), store), nil, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestScenarioAgainstTaskAPI(t *testing.T) {
	ctx := context.Background()
	srv := newTaskAPI(t)
	c := New(srv.URL, WithToken(token(t, "alice")))

	created, err := c.CreateTask(ctx, domain.NewTask{Title: "Spec"}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTodo, created.Status)
	assert.Equal(t, domain.DefaultPriority, created.Priority)
	assert.Empty(t, created.Subtasks)

	require.NoError(t, c.UpdateStatus(ctx, created.ID, domain.StatusDone))

	comment, err := c.AddComment(ctx, created.ID, "looks good")
	require.NoError(t, err)
	assert.Equal(t, "looks good", comment.Text)
	require.NotNil(t, comment.AuthorID)
	assert.Equal(t, "alice", *comment.AuthorID)

	full, err := c.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, full.Status)
	assert.Equal(t, 1, full.Comments)
	require.Len(t, full.Activities, 3)
	assert.Equal(t, domain.ActionCreate, full.Activities[0].Action)
	assert.Equal(t, domain.ActionUpdate, full.Activities[1].Action)
	assert.JSONEq(t, `{"status":{"from":"todo","to":"done"}}`, string(full.Activities[1].Payload))
	assert.Equal(t, domain.ActionComment, full.Activities[2].Action)

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Activities)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", me.Email)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	_, err = c.GetTask(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	ctx := context.Background()
	srv := newTaskAPI(t)

	anon := New(srv.URL)
	_, err := anon.CreateTask(ctx, domain.NewTask{Title: "x"}, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	ghost := New(srv.URL, WithToken(token(t, "ghost")))
	_, err = ghost.Me(ctx)
	assert.ErrorIs(t, err, domain.ErrUnknownSubject)

	bad := New(srv.URL, WithToken("not-a-token"))
	_, err = bad.Me(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	alice := New(srv.URL, WithToken(token(t, "alice")))
	_, err = alice.CreateTask(ctx, domain.NewTask{Title: "   "}, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = alice.AddComment(ctx, "missing", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListTasksByOwner(t *testing.T) {
	ctx := context.Background()
	srv := newTaskAPI(t)

	alice := New(srv.URL, WithToken(token(t, "alice")))
	_, err := alice.CreateTask(ctx, domain.NewTask{Title: "mine"}, "")
	require.NoError(t, err)

	tasks, err := New(srv.URL, WithOwner("alice")).ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = New(srv.URL, WithOwner("bob")).ListTasks(ctx)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestServerErrorsAreRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListTasks(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestNetworkFailureIsRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).ListTasks(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestTimeoutIsRemoteUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, WithTimeout(20*time.Millisecond)).ListTasks(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestIdempotencyKeyHeaderIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"t1","title":"x","status":"todo"}`))
	}))
	defer srv.Close()

	task, err := New(srv.URL).CreateTask(context.Background(), domain.NewTask{Title: "x"}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got)
	assert.Equal(t, "t1", task.ID)
}
