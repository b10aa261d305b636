// Package storage uploads file content to an external object store and
// removes it again.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PhilHem/go-file-vault/backend/config"
)

// Resource types recorded with each file. Deleting an object needs the same
// type that the upload reported.
const (
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceRaw   = "raw"
)

// Object is what the provider reports after a successful upload.
type Object struct {
	URL          string // https URL the object is served from
	PublicID     string // provider object identifier
	ResourceType string
}

type UploadOptions struct {
	Filename string
	Folder   string
}

// Provider is an external object store.
type Provider interface {
	Upload(ctx context.Context, content io.Reader, opts UploadOptions) (Object, error)
	Destroy(ctx context.Context, publicID, resourceType string) error
}

// New builds the provider named in cfg.Provider.
func New(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "cloudinary":
		return NewCloudinary(cfg.Cloudinary)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// MediaOrigin is the scheme and host uploaded objects are served from, for
// use in the Content-Security-Policy. It is empty when unknown.
func MediaOrigin(cfg config.StorageConfig) string {
	base := "https://res.cloudinary.com"
	if cfg.Provider == "s3" {
		base = publicBaseURL(cfg.S3)
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// mediaExts covers extensions missing from Go's built-in MIME table when the
// host has no mime.types file.
var mediaExts = map[string]string{
	".mp4":  ResourceVideo,
	".mov":  ResourceVideo,
	".webm": ResourceVideo,
	".mkv":  ResourceVideo,
	".avi":  ResourceVideo,
	".mp3":  ResourceVideo,
	".wav":  ResourceVideo,
	".ogg":  ResourceVideo,
	".m4a":  ResourceVideo,
	".flac": ResourceVideo,
	".bmp":  ResourceImage,
	".tiff": ResourceImage,
	".ico":  ResourceImage,
	".heic": ResourceImage,
}

// DetectResourceType maps a filename to image, video or raw the way
// Cloudinary's automatic detection buckets content. Audio counts as video.
func DetectResourceType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if rt, ok := mediaExts[ext]; ok {
		return rt
	}
	ct := mime.TypeByExtension(ext)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return ResourceImage
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return ResourceVideo
	default:
		return ResourceRaw
	}
}
