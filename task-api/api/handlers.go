package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskboard/task-api/domain"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// Register wires up all API routes on the provided Echo instance.
// deduper may be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc *domain.TaskService, gate *Gate, deduper Deduper, logger *log.Logger) {
	e.JSONSerializer = sonicSerializer{}

	reg := prometheus.NewRegistry()
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "taskboard",
		Registerer: reg,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	e.GET("/healthz", healthz())

	g := e.Group("/api", requestMetrics(logger), GzipRequestMiddleware())
	g.GET("/tasks", getTasks(svc, gate))
	g.POST("/tasks", createTask(svc, gate, deduper, logger))
	g.GET("/tasks/:id", getTask(svc))
	g.PUT("/tasks/:id", updateTask(svc, gate))
	g.POST("/tasks/:id/comments", addComment(svc, gate))
	g.DELETE("/tasks/:id", deleteTask(svc))
	g.GET("/users/me", me(gate))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(svc *domain.TaskService, gate *Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		metrics := metricsFrom(c)

		authStart := time.Now()
		owner := gate.Attribution(ctx, c.Request().Header)
		metrics.ObserveAuth(time.Since(authStart))
		if owner == "" {
			owner = strings.TrimSpace(c.QueryParam("ownerId"))
		}

		storeStart := time.Now()
		tasks, err := svc.List(ctx, owner)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			return writeError(c, "storage", err)
		}
		metrics.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func createTask(svc *domain.TaskService, gate *Gate, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		metrics := metricsFrom(c)

		authStart := time.Now()
		user, err := gate.Identify(ctx, c.Request().Header)
		metrics.ObserveAuth(time.Since(authStart))
		if err != nil {
			return writeError(c, "auth", err)
		}

		var in domain.NewTask
		if err := decodeBody(c, &in, true); err != nil {
			return writeError(c, "decode", err)
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		reserved := false
		if key != "" && deduper != nil {
			existing, ok, err := deduper.Reserve(ctx, user.ID, key)
			switch {
			case err != nil:
				logger.WithError(err).WithField("user", user.ID).Warn("idempotency reserve failed; creating without dedupe")
			case ok:
				reserved = true
			case existing == "":
				return writeError(c, "idempotency", fmt.Errorf("%w: request with this idempotency key is already in progress", domain.ErrConflict))
			default:
				task, err := svc.Get(ctx, existing)
				if err != nil {
					return writeError(c, "idempotency", err)
				}
				metrics.SetTaskID(task.ID)
				c.Response().Header().Set(headerReplayed, "true")
				return c.JSON(http.StatusCreated, task)
			}
		}

		storeStart := time.Now()
		task, err := svc.Create(ctx, in, user.ID)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			if reserved {
				if rerr := deduper.Release(ctx, user.ID, key); rerr != nil {
					logger.WithError(rerr).Warn("idempotency release failed")
				}
			}
			return writeError(c, "storage", err)
		}
		if reserved {
			if cerr := deduper.Complete(ctx, user.ID, key, task.ID); cerr != nil {
				logger.WithError(cerr).WithField("task", task.ID).Warn("idempotency complete failed")
			}
		}
		metrics.SetTaskID(task.ID)
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		metricsFrom(c).SetTaskID(id)
		task, err := svc.Get(c.Request().Context(), id)
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(svc *domain.TaskService, gate *Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")
		metrics := metricsFrom(c)
		metrics.SetTaskID(id)

		var fields map[string]json.RawMessage
		if err := decodeBody(c, &fields, false); err != nil {
			return writeError(c, "decode", err)
		}
		patch, err := domain.ParsePatch(fields)
		if err != nil {
			return writeError(c, "decode", err)
		}

		actor := gate.Attribution(ctx, c.Request().Header)
		storeStart := time.Now()
		task, err := svc.Update(ctx, id, patch, actor)
		metrics.ObserveStore(time.Since(storeStart))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func addComment(svc *domain.TaskService, gate *Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")
		metricsFrom(c).SetTaskID(id)

		var req commentRequest
		if err := decodeBody(c, &req, true); err != nil {
			return writeError(c, "decode", err)
		}
		comment, err := svc.AddComment(ctx, id, req.Text, gate.Attribution(ctx, c.Request().Header))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusCreated, comment)
	}
}

func deleteTask(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		metricsFrom(c).SetTaskID(id)
		if err := svc.Delete(c.Request().Context(), id); err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Task deleted successfully"})
	}
}

func me(gate *Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := gate.Identify(c.Request().Context(), c.Request().Header)
		if err != nil {
			return writeError(c, "auth", err)
		}
		return c.JSON(http.StatusOK, user)
	}
}
