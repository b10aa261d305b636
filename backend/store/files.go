package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/models"

	"gorm.io/gorm"
)

// Files is the registry of uploaded objects and their owners.
type Files struct {
	db *gorm.DB
}

func NewFiles(db *gorm.DB) *Files {
	return &Files{db: db}
}

// List returns the owner's files in insertion order.
func (s *Files) List(ctx context.Context, owner *models.User) ([]models.File, error) {
	var files []models.File
	err := s.db.WithContext(ctx).Where("user_id = ?", owner.ID).Order("id ASC").Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (s *Files) Create(ctx context.Context, owner *models.User, filename, url, publicID, fileType string) (*models.File, error) {
	file := &models.File{
		Filename: filename,
		URL:      url,
		PublicID: publicID,
		FileType: fileType,
		UserID:   owner.ID,
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return file, nil
}

func (s *Files) Get(ctx context.Context, id uint) (*models.File, error) {
	return get(s.db.WithContext(ctx), id)
}

// GetOwned returns the file if requester owns it.
func (s *Files) GetOwned(ctx context.Context, id uint, requester *models.User) (*models.File, error) {
	file, err := get(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !file.OwnedBy(requester) {
		return nil, apperr.Forbidden
	}
	return file, nil
}

// DeleteOwned removes the file if requester owns it. If another request
// removed the row first, the result is apperr.NotFound.
func (s *Files) DeleteOwned(ctx context.Context, id uint, requester *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := get(tx, id)
		if err != nil {
			return err
		}
		if !file.OwnedBy(requester) {
			return apperr.Forbidden
		}
		res := tx.Where("user_id = ?", requester.ID).Delete(&models.File{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete file: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound
		}
		return nil
	})
}

func get(db *gorm.DB, id uint) (*models.File, error) {
	var file models.File
	err := db.First(&file, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	return &file, nil
}
