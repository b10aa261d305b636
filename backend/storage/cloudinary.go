package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/PhilHem/go-file-vault/backend/config"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// cloudinaryUploader is the subset of uploader.API used here.
type cloudinaryUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

type Cloudinary struct {
	api cloudinaryUploader
}

func NewCloudinary(cfg config.CloudinaryConfig) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary: cloud_name, api_key and api_secret are required")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &Cloudinary{api: &cld.Upload}, nil
}

// Upload sends content with automatic resource type detection. The original
// filename is passed along so raw assets keep their extension.
func (c *Cloudinary) Upload(ctx context.Context, content io.Reader, opts UploadOptions) (Object, error) {
	res, err := c.api.Upload(ctx, content, uploader.UploadParams{
		Folder:           opts.Folder,
		ResourceType:     "auto",
		FilenameOverride: opts.Filename,
	})
	if err != nil {
		return Object{}, fmt.Errorf("cloudinary upload: %w", err)
	}
	if res == nil {
		return Object{}, errors.New("cloudinary upload: empty response")
	}
	if res.Error.Message != "" {
		return Object{}, fmt.Errorf("cloudinary upload: %s", res.Error.Message)
	}
	if res.SecureURL == "" || res.PublicID == "" {
		return Object{}, errors.New("cloudinary upload: response without url or public id")
	}
	return Object{
		URL:          res.SecureURL,
		PublicID:     res.PublicID,
		ResourceType: res.ResourceType,
	}, nil
}

// Destroy deletes the object. An object that is already gone counts as deleted.
func (c *Cloudinary) Destroy(ctx context.Context, publicID, resourceType string) error {
	res, err := c.api.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if res == nil {
		return errors.New("cloudinary destroy: empty response")
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", res.Error.Message)
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cloudinary destroy: unexpected result %q", res.Result)
	}
}
