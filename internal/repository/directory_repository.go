package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// DirectoryRepository gives read access to employees, projects and tasks
// and their memberships. Writes exist only for seeding.
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{db: db, logger: logger}
}

func (r *DirectoryRepository) GetEmployee(ctx context.Context, id string) (*models.Employee, error) {
	var e models.Employee
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("employee", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

func (r *DirectoryRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var (
		p       models.Project
		enabled int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, screenshots_enabled, screenshot_interval_ms FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &enabled, &p.ScreenshotIntervalMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.ScreenshotsEnabled = enabled == 1
	return &p, nil
}

func (r *DirectoryRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, name FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.ProjectID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

func (r *DirectoryRepository) IsProjectMember(ctx context.Context, projectID, employeeID string) (bool, error) {
	return r.exists(ctx,
		`SELECT 1 FROM project_members WHERE project_id = ? AND employee_id = ?`,
		projectID, employeeID,
	)
}

func (r *DirectoryRepository) IsTaskMember(ctx context.Context, taskID, employeeID string) (bool, error) {
	return r.exists(ctx,
		`SELECT 1 FROM task_members WHERE task_id = ? AND employee_id = ?`,
		taskID, employeeID,
	)
}

func (r *DirectoryRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// Seed is the on-disk shape of a directory fixture
type Seed struct {
	Employees []models.Employee `yaml:"employees"`
	Projects  []ProjectSeed     `yaml:"projects"`
	Tasks     []TaskSeed        `yaml:"tasks"`
}

type ProjectSeed struct {
	models.Project `yaml:",inline"`
	Members        []string `yaml:"members"`
}

type TaskSeed struct {
	models.Task `yaml:",inline"`
	Members     []string `yaml:"members"`
}

// Apply upserts every record of the seed in one transaction
func (r *DirectoryRepository) Apply(ctx context.Context, seed *Seed) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range seed.Employees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, name, email) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
			e.ID, e.Name, e.Email,
		); err != nil {
			return fmt.Errorf("failed to seed employee %s: %w", e.ID, err)
		}
	}

	for _, p := range seed.Projects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, screenshots_enabled, screenshot_interval_ms) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				screenshots_enabled = excluded.screenshots_enabled,
				screenshot_interval_ms = excluded.screenshot_interval_ms`,
			p.ID, p.Name, boolInt(p.ScreenshotsEnabled), p.ScreenshotIntervalMs,
		); err != nil {
			return fmt.Errorf("failed to seed project %s: %w", p.ID, err)
		}
		for _, member := range p.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO project_members (project_id, employee_id) VALUES (?, ?)`,
				p.ID, member,
			); err != nil {
				return fmt.Errorf("failed to seed project member %s/%s: %w", p.ID, member, err)
			}
		}
	}

	for _, t := range seed.Tasks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, name) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name`,
			t.ID, t.ProjectID, t.Name,
		); err != nil {
			return fmt.Errorf("failed to seed task %s: %w", t.ID, err)
		}
		for _, member := range t.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO task_members (task_id, employee_id) VALUES (?, ?)`,
				t.ID, member,
			); err != nil {
				return fmt.Errorf("failed to seed task member %s/%s: %w", t.ID, member, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	r.logger.Info("Directory seeded",
		zap.Int("employees", len(seed.Employees)),
		zap.Int("projects", len(seed.Projects)),
		zap.Int("tasks", len(seed.Tasks)),
	)
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
