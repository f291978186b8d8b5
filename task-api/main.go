package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/task-api/api"
	"taskboard/task-api/domain"
	"taskboard/task-api/storage"
)

type backend interface {
	domain.TaskStorage
	domain.UserDirectory
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	jsonLogs := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	if jsonLogs {
		log.SetFormatter(&log.JSONFormatter{})
	}

	store, err := openStore(os.Getenv("STORE_DRIVER"))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	seeds, err := parseSeedUsers(os.Getenv("SEED_USERS"), time.Now())
	if err != nil {
		log.Fatalf("invalid SEED_USERS: %v", err)
	}
	for _, u := range seeds {
		if err := store.PutUser(context.Background(), u); err != nil {
			log.Fatalf("seed user %s: %v", u.ID, err)
		}
	}

	var tasks domain.TaskStorage = store
	var deduper api.Deduper
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptions(redisConn))
		tasks = storage.NewCache(store, rc, durationEnv("TASKS_CACHE_TTL", time.Minute))
		deduper = api.NewRedisDeduper(rc, durationEnv("IDEMPOTENCY_TTL", 24*time.Hour))
	} else {
		log.Info("REDIS_CONNECTION_STRING not set; list cache and idempotency keys disabled")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Access-Token", "Idempotency-Key"},
	}))

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	if jsonLogs {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	gate := api.NewGate(newAuth(), store)
	api.Register(e, domain.NewTaskService(tasks), gate, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	} else if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func openStore(driver string) (backend, error) {
	switch strings.ToLower(driver) {
	case "", "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		tasksTable := os.Getenv("TASKS_TABLE")
		usersTable := os.Getenv("USERS_TABLE")
		if connStr == "" || tasksTable == "" || usersTable == "" {
			return nil, fmt.Errorf("missing storage config")
		}
		return storage.New(connStr, tasksTable, usersTable)
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "taskboard.db"
		}
		return storage.OpenSQLite(path)
	case "memory":
		return storage.NewMemory(), nil
	}
	return nil, fmt.Errorf("unsupported STORE_DRIVER %q", driver)
}

func newAuth() *api.Auth {
	if os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "" {
		return api.NewAuth(nil, "", "")
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	authDomain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || authDomain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
}

// redisOptions accepts a redis:// URL or an Azure style "host:port,password=...,ssl=True" string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, v)
	}
	return d
}

// parseSeedUsers reads "id:email:name" triples separated by commas.
func parseSeedUsers(raw string, now time.Time) ([]domain.User, error) {
	var users []domain.User
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("expected id:email[:name], got %q", item)
		}
		u := domain.User{ID: parts[0], Email: parts[1], Name: parts[0], CreatedAt: now.UTC(), UpdatedAt: now.UTC()}
		if len(parts) == 3 && parts[2] != "" {
			u.Name = parts[2]
		}
		users = append(users, u)
	}
	return users, nil
}
