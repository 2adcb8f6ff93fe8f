package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/sajanshree/order-api/internal/config"
	"github.com/sajanshree/order-api/internal/models"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
	"google.golang.org/api/option"
)

// GCSStore keeps order images in a Cloud Storage bucket
type GCSStore struct {
	client  *storage.Client
	bucket  string
	folder  string
	baseURL string
	maxSize int64
	maxDim  uint
	logger  logger.Logger
}

// NewGCSStore creates a client for the configured bucket
func NewGCSStore(ctx context.Context, cfg config.AssetConfig, logger logger.Logger) (*GCSStore, error) {
	var opts []option.ClientOption

	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)

	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	logger.Info("Asset store ready", "bucket", cfg.Bucket, "folder", cfg.Folder)

	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		folder:  strings.Trim(cfg.Folder, "/"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maxSize: cfg.MaxUploadBytes,
		maxDim:  cfg.MaxDimension,
		logger:  logger,
	}, nil
}

// Store validates, bounds and uploads an image. The object name is the asset id.
func (s *GCSStore) Store(ctx context.Context, data []byte, filename string) (*models.ImageRef, error) {
	format, err := FormatOf(filename)

	if err != nil {
		return nil, err
	}

	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), s.maxSize)
	}

	bounded, err := Bound(data, format, s.maxDim)

	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s.%s", uuid.NewString(), format)

	if s.folder != "" {
		name = s.folder + "/" + name
	}

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = ContentType(format)

	if _, err := w.Write(bounded); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	s.logger.Info("Image stored", "assetId", name, "bytes", len(bounded))

	return &models.ImageRef{
		URL:     fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, name),
		AssetID: name,
	}, nil
}

// ErrForeignAsset is returned when an asset id lies outside the store's image folder
var ErrForeignAsset = errors.New("asset is outside the order image folder")

// owns reports whether assetID names an object this store could have written
func (s *GCSStore) owns(assetID string) bool {
	if assetID == "" || strings.Contains(assetID, "..") {
		return false
	}

	if s.folder == "" {
		return !strings.Contains(assetID, "/")
	}
	return strings.HasPrefix(assetID, s.folder+"/") && len(assetID) > len(s.folder)+1
}

// Delete removes an image. A missing object counts as deleted; ids outside the folder are refused.
func (s *GCSStore) Delete(ctx context.Context, assetID string) error {
	if !s.owns(assetID) {
		s.logger.Warn("Refusing to delete asset outside the image folder", "assetId", assetID, "folder", s.folder)
		return apperrors.NewAppError(ErrForeignAsset, fmt.Sprintf("refusing to delete %q", assetID),
			http.StatusBadRequest, false)
	}

	err := s.client.Bucket(s.bucket).Object(assetID).Delete(ctx)

	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", assetID, err)
	}
	return nil
}

// Close releases the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// NoopStore is used when no bucket is configured. Uploads are refused and deletes succeed.
type NoopStore struct {
	logger logger.Logger
}

// ErrStoreDisabled is returned by NoopStore.Store
var ErrStoreDisabled = errors.New("image uploads are disabled")

// NewNoopStore creates a NoopStore
func NewNoopStore(logger logger.Logger) *NoopStore {
	return &NoopStore{logger: logger}
}

// Store always fails
func (s *NoopStore) Store(_ context.Context, _ []byte, filename string) (*models.ImageRef, error) {
	s.logger.Warn("Image upload ignored, no asset bucket configured", "filename", filename)
	return nil, ErrStoreDisabled
}

// Delete is a no-op
func (s *NoopStore) Delete(_ context.Context, assetID string) error {
	s.logger.Debug("Skipping image delete, no asset bucket configured", "assetId", assetID)
	return nil
}
