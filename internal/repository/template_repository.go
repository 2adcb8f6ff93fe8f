package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sajanshree/order-api/internal/database"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/pkg/logger"
)

// PostgresTemplateRepository stores the templates of one catalog in catalog_templates
type PostgresTemplateRepository struct {
	db     *database.Database
	kind   string
	logger logger.Logger
}

// NewTemplateRepository creates a repository scoped to kind
func NewTemplateRepository(db *database.Database, kind string, logger logger.Logger) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{
		db:     db,
		kind:   kind,
		logger: logger.With("catalog", kind),
	}
}

type templateRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Name      string    `db:"name"`
	Sizes     []byte    `db:"sizes"`
	Details   []byte    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *PostgresTemplateRepository) toRow(t *models.Template) (*templateRow, error) {
	t.Normalize()

	sizes, err := json.Marshal(t.Sizes)

	if err != nil {
		return nil, err
	}

	details, err := json.Marshal(t.Details)

	if err != nil {
		return nil, err
	}

	return &templateRow{
		ID:        t.ID,
		Kind:      r.kind,
		Name:      t.Name,
		Sizes:     sizes,
		Details:   details,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func (row *templateRow) toModel() (*models.Template, error) {
	t := &models.Template{
		ID:        row.ID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}

	if err := json.Unmarshal(row.Sizes, &t.Sizes); err != nil {
		return nil, fmt.Errorf("decode sizes of template %s: %w", row.ID, err)
	}

	if err := json.Unmarshal(row.Details, &t.Details); err != nil {
		return nil, fmt.Errorf("decode details of template %s: %w", row.ID, err)
	}

	t.Normalize()
	return t, nil
}

const templateColumns = `id, kind, name, sizes, details, created_at, updated_at`

// Create inserts a new template
func (r *PostgresTemplateRepository) Create(ctx context.Context, tpl *models.Template) error {
	row, err := r.toRow(tpl)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	query := `INSERT INTO catalog_templates (` + templateColumns + `)
		VALUES (:id, :kind, :name, :sizes, :details, :created_at, :updated_at)`

	if _, err := r.db.DB.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create template", "error", err, "name", tpl.Name)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

func (r *PostgresTemplateRepository) getOne(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM catalog_templates WHERE kind = $1 AND ` + where

	var row templateRow
	err := sqlx.GetContext(ctx, q, &row, query, r.kind, arg)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get template", "error", err, "key", arg)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	tpl, err := row.toModel()

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return tpl, nil
}

// GetByID retrieves a template by its ID
func (r *PostgresTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	return r.getOne(ctx, r.db.DB, "id = $2", id)
}

// GetByName retrieves a template by its unique name
func (r *PostgresTemplateRepository) GetByName(ctx context.Context, name string) (*models.Template, error) {
	return r.getOne(ctx, r.db.DB, "name = $2", name)
}

// List returns every template of the catalog ordered by name
func (r *PostgresTemplateRepository) List(ctx context.Context) ([]*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM catalog_templates WHERE kind = $1 ORDER BY name ASC`

	var rows []templateRow

	if err := r.db.DB.SelectContext(ctx, &rows, query, r.kind); err != nil {
		r.logger.Error("Failed to list templates", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	templates := make([]*models.Template, 0, len(rows))

	for i := range rows {
		tpl, err := rows[i].toModel()

		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		templates = append(templates, tpl)
	}

	return templates, nil
}

// Update replaces name, sizes and details of a template
func (r *PostgresTemplateRepository) Update(ctx context.Context, tpl *models.Template) error {
	row, err := r.toRow(tpl)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	query := `
		UPDATE catalog_templates
		SET name = :name, sizes = :sizes, details = :details, updated_at = :updated_at
		WHERE id = :id AND kind = :kind
	`

	result, err := r.db.DB.NamedExecContext(ctx, query, row)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to update template", "error", err, "id", tpl.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a template by its ID
func (r *PostgresTemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM catalog_templates WHERE id = $1 AND kind = $2`, id, r.kind)

	if err != nil {
		r.logger.Error("Failed to delete template", "error", err, "id", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// AppendOption locks the template row, adds the option and writes the details back
func (r *PostgresTemplateRepository) AppendOption(ctx context.Context, name, detailKey, option string, at time.Time) (*models.Template, error) {
	var updated *models.Template

	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		tpl, err := r.getOne(ctx, tx, "name = $2 FOR UPDATE", name)

		if err != nil {
			return err
		}

		if err := tpl.AddOption(detailKey, option); err != nil {
			return err
		}

		tpl.UpdatedAt = at

		details, err := json.Marshal(tpl.Details)

		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE catalog_templates SET details = $1, updated_at = $2 WHERE id = $3`,
			details, at, tpl.ID)

		if err != nil {
			return err
		}

		updated = tpl
		return nil
	})

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, models.ErrDetailNotFound), errors.Is(err, models.ErrOptionExists):
		return nil, err
	case errors.Is(err, ErrDatabase):
		return nil, err
	default:
		r.logger.Error("Failed to append option", "error", err, "name", name, "detail", detailKey)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
}
