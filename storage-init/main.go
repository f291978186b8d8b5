package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskboard/task-api/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if err := run(context.Background(), os.Getenv("STORE_DRIVER")); err != nil {
		log.Fatal(err)
	}
	log.Info("storage init complete")
}

func run(ctx context.Context, driver string) error {
	switch strings.ToLower(driver) {
	case "", "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
		names := tableNames(os.Getenv("TASKS_TABLE"), os.Getenv("USERS_TABLE"))
		if len(names) == 0 {
			return errors.New("missing TASKS_TABLE and USERS_TABLE")
		}
		if err := createTables(ctx, connStr, names); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		return nil
	case "sqlite":
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "taskboard.db"
		}
		return migrateSQLite(path)
	case "memory":
		log.Info("memory store needs no initialization")
		return nil
	}
	return fmt.Errorf("unsupported STORE_DRIVER %q", driver)
}

func tableNames(names ...string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
			log.WithField("table", name).Debug("table already exists")
			continue
		}
		log.WithField("table", name).Info("table created")
	}
	return nil
}

// migrateSQLite creates or upgrades the task, activity and user tables at path.
func migrateSQLite(path string) error {
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	log.WithField("path", path).Info("sqlite schema migrated")
	return nil
}
