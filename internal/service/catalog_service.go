package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
)

// TemplateInput is the client shape of a catalog template
type TemplateInput struct {
	Name    string               `json:"name"`
	Sizes   []string             `json:"sizes"`
	Details []models.DetailField `json:"details"`
}

// CatalogService manages one catalog of templates (products or order options)
type CatalogService struct {
	kind   string
	repo   repository.TemplateRepository
	logger logger.Logger
	now    func() time.Time
}

// NewCatalogService creates a CatalogService for the given catalog kind
func NewCatalogService(kind string, repo repository.TemplateRepository, logger logger.Logger) *CatalogService {
	return &CatalogService{
		kind:   kind,
		repo:   repo,
		logger: logger.With("catalog", kind),
		now:    models.GetCurrentTime,
	}
}

func (s *CatalogService) storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError("template not found").WithContext("catalog", s.kind)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflictError(apperrors.CodeDuplicateName, "a template with this name already exists").
			WithContext("catalog", s.kind)
	default:
		s.logger.Error("Catalog store failure", "op", op, "error", err)
		return apperrors.NewPersistenceError(fmt.Sprintf("failed to %s template", op), err)
	}
}

func buildTemplate(in *TemplateInput) (*models.Template, error) {
	tpl := &models.Template{
		Name:    strings.TrimSpace(in.Name),
		Sizes:   make([]string, 0, len(in.Sizes)),
		Details: make([]models.DetailField, 0, len(in.Details)),
	}

	for _, size := range in.Sizes {
		if size = strings.TrimSpace(size); size != "" && !tpl.HasSize(size) {
			tpl.Sizes = append(tpl.Sizes, size)
		}
	}

	for _, d := range in.Details {
		field := models.DetailField{
			Label:   strings.TrimSpace(d.Label),
			Key:     strings.TrimSpace(d.Key),
			Options: []string{},
		}

		for _, opt := range d.Options {
			if !field.HasOption(opt) {
				field.Options = append(field.Options, opt)
			}
		}
		tpl.Details = append(tpl.Details, field)
	}

	if err := tpl.Validate(); err != nil {
		if tpl.Name == "" {
			return nil, apperrors.NewValidationError(apperrors.CodeMissingField, err.Error()).
				WithContext("field", "name")
		}
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	return tpl, nil
}

// CreateTemplate validates and stores a new template
func (s *CatalogService) CreateTemplate(ctx context.Context, in *TemplateInput) (*models.Template, error) {
	tpl, err := buildTemplate(in)

	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tpl.ID = models.GenerateID()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, s.storeError("create", err)
	}

	s.logger.Info("Template created", "id", tpl.ID, "name", tpl.Name)
	return tpl, nil
}

// GetTemplate retrieves a template by ID
func (s *CatalogService) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := s.repo.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}
	return tpl, nil
}

// GetTemplateByName retrieves a template by its unique name
func (s *CatalogService) GetTemplateByName(ctx context.Context, name string) (*models.Template, error) {
	tpl, err := s.repo.GetByName(ctx, name)

	if err != nil {
		return nil, s.storeError("get", err)
	}
	return tpl, nil
}

// ListTemplates returns every template in the catalog
func (s *CatalogService) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	templates, err := s.repo.List(ctx)

	if err != nil {
		return nil, s.storeError("list", err)
	}
	return templates, nil
}

// UpdateTemplate replaces the name, sizes and details of a template
func (s *CatalogService) UpdateTemplate(ctx context.Context, id string, in *TemplateInput) (*models.Template, error) {
	existing, err := s.repo.GetByID(ctx, id)

	if err != nil {
		return nil, s.storeError("get", err)
	}

	tpl, err := buildTemplate(in)

	if err != nil {
		return nil, err
	}

	tpl.ID = existing.ID
	tpl.CreatedAt = existing.CreatedAt
	tpl.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, tpl); err != nil {
		return nil, s.storeError("update", err)
	}

	s.logger.Info("Template updated", "id", tpl.ID, "name", tpl.Name)
	return tpl, nil
}

// DeleteTemplate removes a template. Orders referencing it by name are unaffected.
func (s *CatalogService) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storeError("delete", err)
	}

	s.logger.Info("Template deleted", "id", id)
	return nil
}

// AddOption appends option to the detail keyed detailKey of the named template
func (s *CatalogService) AddOption(ctx context.Context, name, detailKey, option string) (*models.Template, error) {
	name = strings.TrimSpace(name)
	detailKey = strings.TrimSpace(detailKey)
	option = strings.TrimSpace(option)

	if detailKey == "" || option == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingField, "detailKey and option are required")
	}

	tpl, err := s.repo.AppendOption(ctx, name, detailKey, option, s.now().UTC())

	switch {
	case err == nil:
		s.logger.Info("Option added", "name", name, "detail", detailKey, "option", option)
		return tpl, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("template %q not found", name))
	case errors.Is(err, models.ErrDetailNotFound):
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("template %q has no detail %q", name, detailKey)).
			WithContext("detailKey", detailKey)
	case errors.Is(err, models.ErrOptionExists):
		return nil, apperrors.NewConflictError(apperrors.CodeDuplicateOption,
			fmt.Sprintf("option %q already exists for %q", option, detailKey))
	default:
		return nil, s.storeError("update", err)
	}
}
