package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"taskboard/task-api/domain"
)

type taskRow struct {
	ID          string           `gorm:"primaryKey;size:64"`
	Title       string           `gorm:"not null"`
	Description string
	Status      string           `gorm:"size:16;index"`
	Priority    string           `gorm:"size:32"`
	Creator     string           `gorm:"size:64;index"`
	Assignee    *string          `gorm:"size:64"`
	DueDate     *time.Time
	Subtasks    []domain.Subtask `gorm:"serializer:json"`
	Comments    int
	Files       int
	CreatedAt   time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (taskRow) TableName() string { return "tasks" }

type activityRow struct {
	TaskID    string    `gorm:"primaryKey;size:64"`
	Seq       int64     `gorm:"primaryKey;autoIncrement:false"`
	Actor     *string   `gorm:"size:64"`
	Action    string    `gorm:"size:16"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (activityRow) TableName() string { return "task_activities" }

type userRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255;uniqueIndex"`
	Name      string
	AvatarURL string
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

// SQL keeps tasks in a relational database through gorm.
type SQL struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a SQLite database at dsn. Use ":memory:" for an ephemeral one.
func OpenSQLite(dsn string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; an in-memory database also exists per connection.
	sqlDB.SetMaxOpenConns(1)
	s := &SQL{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the schema.
func (s *SQL) Migrate() error {
	return s.db.AutoMigrate(&taskRow{}, &activityRow{}, &userRow{})
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQL) InsertTask(ctx context.Context, t domain.Task) error {
	row := toTaskRow(t)
	acts := toActivityRows(t.ID, t.Activities)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(acts) > 0 {
			return tx.Create(&acts).Error
		}
		return nil
	})
	return mapSQLErr(err)
}

func (s *SQL) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	db := s.db.WithContext(ctx)
	var row taskRow
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var acts []activityRow
	if err := db.Where("task_id = ?", id).Order("seq").Find(&acts).Error; err != nil {
		return nil, err
	}
	t := fromTaskRow(row)
	t.Activities = fromActivityRows(acts)
	return &t, nil
}

func (s *SQL) SaveTask(ctx context.Context, t domain.Task, appended []domain.ActivityEntry) error {
	row := toTaskRow(t)
	acts := toActivityRows(t.ID, appended)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&taskRow{}).Where("id = ?", t.ID).Select("*").Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if len(acts) > 0 {
			return tx.Create(&acts).Error
		}
		return nil
	})
	return editConflict(t.ID, mapSQLErr(err))
}

func (s *SQL) DeleteTask(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&activityRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&taskRow{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, mapSQLErr(err)
	}
	return deleted, nil
}

func (s *SQL) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	q := s.db.WithContext(ctx).Order("created_at, id")
	if owner != "" {
		q = q.Where("creator = ?", owner)
	}
	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, fromTaskRow(r))
	}
	return tasks, nil
}

func (s *SQL) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	u := domain.User{
		ID:        row.ID,
		Email:     row.Email,
		Name:      row.Name,
		AvatarURL: row.AvatarURL,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	return &u, nil
}

func (s *SQL) PutUser(ctx context.Context, u domain.User) error {
	row := userRow{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	return mapSQLErr(err)
}

func mapSQLErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}

func toTaskRow(t domain.Task) taskRow {
	return taskRow{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    t.Priority,
		Creator:     t.Creator,
		Assignee:    t.Assignee,
		DueDate:     t.DueDate,
		Subtasks:    nonNilSubtasks(t.Subtasks),
		Comments:    t.Comments,
		Files:       t.Files,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTaskRow(r taskRow) domain.Task {
	t := domain.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Priority:    r.Priority,
		Creator:     r.Creator,
		Assignee:    r.Assignee,
		Subtasks:    nonNilSubtasks(r.Subtasks),
		Comments:    r.Comments,
		Files:       r.Files,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.DueDate != nil {
		due := r.DueDate.UTC()
		t.DueDate = &due
	}
	for i := range t.Subtasks {
		t.Subtasks[i].CreatedAt = t.Subtasks[i].CreatedAt.UTC()
	}
	return t
}

func toActivityRows(taskID string, entries []domain.ActivityEntry) []activityRow {
	rows := make([]activityRow, 0, len(entries))
	for _, a := range entries {
		rows = append(rows, activityRow{
			TaskID:    taskID,
			Seq:       a.Seq,
			Actor:     a.Actor,
			Action:    string(a.Action),
			Payload:   string(a.Payload),
			CreatedAt: a.CreatedAt,
		})
	}
	return rows
}

func fromActivityRows(rows []activityRow) []domain.ActivityEntry {
	out := make([]domain.ActivityEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ActivityEntry{
			Seq:       r.Seq,
			Actor:     r.Actor,
			Action:    domain.Action(r.Action),
			Payload:   []byte(r.Payload),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out
}
