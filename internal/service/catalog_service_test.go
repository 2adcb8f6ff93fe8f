package service

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *CatalogService {
	t.Helper()

	store := repository.NewMemoryStore().Repositories()
	return NewCatalogService(models.CatalogProducts, store.Products, logger.NewNop())
}

func shirtInput() *TemplateInput {
	return &TemplateInput{
		Name:  " Shirt ",
		Sizes: []string{"S", "M", "S", " "},
		Details: []models.DetailField{
			{Label: "Collar", Key: "collar", Options: []string{"Round", "Round", "Mandarin"}},
		},
	}
}

func TestCreateTemplateNormalizes(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t)

	tpl, err := svc.CreateTemplate(context.Background(), shirtInput())
	require.NoError(t, err)

	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, "Shirt", tpl.Name)
	assert.Equal(t, []string{"S", "M"}, tpl.Sizes)
	assert.Equal(t, []string{"Round", "Mandarin"}, tpl.Details[0].Options)

	byName, err := svc.GetTemplateByName(context.Background(), "Shirt")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byName.ID)
}

func TestCreateTemplateErrors(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t)

	_, err := svc.CreateTemplate(context.Background(), &TemplateInput{})
	assert.Equal(t, apperrors.CodeMissingField, apperrors.CodeOf(err))

	_, err = svc.CreateTemplate(context.Background(), shirtInput())
	require.NoError(t, err)

	_, err = svc.CreateTemplate(context.Background(), shirtInput())
	assert.Equal(t, apperrors.CodeDuplicateName, apperrors.CodeOf(err))
	assert.Equal(t, http.StatusConflict, apperrors.StatusCodeOf(err))
}

func TestAddOption(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, shirtInput())
	require.NoError(t, err)

	tpl, err := svc.AddOption(ctx, "Shirt", "collar", "Spread")
	require.NoError(t, err)
	assert.Equal(t, []string{"Round", "Mandarin", "Spread"}, tpl.Details[0].Options)

	_, err = svc.AddOption(ctx, "Shirt", "collar", "Spread")
	assert.Equal(t, apperrors.CodeDuplicateOption, apperrors.CodeOf(err))

	_, err = svc.AddOption(ctx, "Shirt", "cuff", "French")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	_, err = svc.AddOption(ctx, "Kurta", "collar", "Round")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	_, err = svc.AddOption(ctx, "Shirt", "collar", "")
	assert.Equal(t, apperrors.CodeMissingField, apperrors.CodeOf(err))
}

func TestAddOptionConcurrentDuplicatesAddOnce(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t)
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, shirtInput())
	require.NoError(t, err)

	const n = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			if _, err := svc.AddOption(ctx, "Shirt", "collar", "Band"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, succeeded)

	tpl, err := svc.GetTemplateByName(ctx, "Shirt")
	require.NoError(t, err)
	assert.Equal(t, []string{"Round", "Mandarin", "Band"}, tpl.Details[0].Options)
}

func TestUpdateAndDeleteTemplate(t *testing.T) {
	t.Parallel()

	svc := newCatalog(t)
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, shirtInput())
	require.NoError(t, err)

	updated, err := svc.UpdateTemplate(ctx, created.ID, &TemplateInput{Name: "Formal Shirt", Sizes: []string{"L"}})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, []string{"L"}, updated.Sizes)

	list, err := svc.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Formal Shirt", list[0].Name)

	require.NoError(t, svc.DeleteTemplate(ctx, created.ID))

	_, err = svc.GetTemplate(ctx, created.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(svc.DeleteTemplate(ctx, created.ID)))
}
