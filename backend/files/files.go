// Package files coordinates the storage provider with the file registry so
// that a record exists exactly when its remote object does.
package files

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/models"
	"github.com/PhilHem/go-file-vault/backend/storage"
)

// Registry is the file metadata store.
type Registry interface {
	List(ctx context.Context, owner *models.User) ([]models.File, error)
	Create(ctx context.Context, owner *models.User, filename, url, publicID, fileType string) (*models.File, error)
	GetOwned(ctx context.Context, id uint, requester *models.User) (*models.File, error)
	DeleteOwned(ctx context.Context, id uint, requester *models.User) error
}

type Service struct {
	registry Registry
	provider storage.Provider
	folder   string
}

func NewService(registry Registry, provider storage.Provider, folder string) *Service {
	return &Service{registry: registry, provider: provider, folder: folder}
}

func (s *Service) List(ctx context.Context, owner *models.User) ([]models.File, error) {
	return s.registry.List(ctx, owner)
}

// Upload stores content with the provider and records it for owner. Nothing
// is recorded when the provider fails.
func (s *Service) Upload(ctx context.Context, owner *models.User, filename string, content io.Reader) (*models.File, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || content == nil {
		return nil, apperr.NoFile
	}
	br := bufio.NewReader(content)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.NoFile
		}
		return nil, err
	}

	obj, err := s.provider.Upload(ctx, br, storage.UploadOptions{Filename: filename, Folder: s.folder})
	if err != nil {
		slog.Error("upload failed", "source", "files", "user_id", owner.ID, "filename", filename, "error", err.Error())
		return nil, apperr.Wrap(apperr.CodeProviderFailure, "upload "+filename, err)
	}

	file, err := s.registry.Create(ctx, owner, filename, obj.URL, obj.PublicID, obj.ResourceType)
	if err != nil {
		// Without a record nothing would ever delete the object.
		if derr := s.provider.Destroy(context.WithoutCancel(ctx), obj.PublicID, obj.ResourceType); derr != nil {
			slog.Error("orphaned object after failed insert", "source", "files", "user_id", owner.ID,
				"public_id", obj.PublicID, "error", derr.Error())
		}
		return nil, err
	}

	slog.Info("file uploaded", "source", "files", "user_id", owner.ID, "file_id", file.ID, "type", file.FileType)
	return file, nil
}

// Delete removes the remote object first and the record second. If the
// provider fails the record is kept so the delete can be retried.
func (s *Service) Delete(ctx context.Context, fileID uint, requester *models.User) error {
	file, err := s.registry.GetOwned(ctx, fileID, requester)
	if err != nil {
		if errors.Is(err, apperr.Forbidden) {
			slog.Warn("delete denied", "source", "files", "user_id", requester.ID, "file_id", fileID)
		}
		return err
	}

	if file.PublicID != "" {
		// Once issued the remote delete runs to completion.
		if err := s.provider.Destroy(context.WithoutCancel(ctx), file.PublicID, file.FileType); err != nil {
			slog.Error("remote delete failed, keeping record", "source", "files", "user_id", requester.ID,
				"file_id", file.ID, "error", err.Error())
			return apperr.Wrap(apperr.CodeProviderFailure, "delete remote object", err)
		}
	}

	if err := s.registry.DeleteOwned(ctx, file.ID, requester); err != nil {
		return err
	}
	slog.Info("file deleted", "source", "files", "user_id", requester.ID, "file_id", file.ID)
	return nil
}
