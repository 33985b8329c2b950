package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// blobStore keeps uploads in the dataset_blobs table.
type blobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlobStore(db *gorm.DB, log *logger.Logger) ports.UploadStore {
	return &blobStore{db: db, log: log}
}

func (s *blobStore) Name() string { return "db" }

func (s *blobStore) Put(ctx context.Context, key string, data []byte) error {
	blob := &domain.DatasetBlob{Key: key, Data: data}
	if err := s.db.WithContext(ctx).Create(blob).Error; err != nil {
		s.log.Errorw("blob_store_put_failed", "key", key, "size", len(data), "error", err)
		return err
	}
	return nil
}

func (s *blobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var blob domain.DatasetBlob
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&blob).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", services.ErrUploadNotFound, key)
		}
		s.log.Errorw("blob_store_get_failed", "key", key, "error", err)
		return nil, err
	}
	return blob.Data, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.DatasetBlob{})
	if res.Error != nil {
		s.log.Errorw("blob_store_delete_failed", "key", key, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", services.ErrUploadNotFound, key)
	}
	return nil
}

func (s *blobStore) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&domain.DatasetBlob{}).Limit(1).Select("key").Find(&[]domain.DatasetBlob{}).Error
}
