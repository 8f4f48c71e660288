package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"campus_market/internal/config"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

// FileStorageService stores uploaded chat images and returns a public URL.
// The store happens before the message is persisted; a storage failure
// aborts the whole send.
type FileStorageService interface {
	StoreChatImage(ctx context.Context, file *multipart.FileHeader) (string, error)
}

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type localFileStorage struct {
	dir     string
	baseURL string
	maxSize int64
	log     logger.Logger
}

func NewFileStorageService(cfg config.UploadConfig, log logger.Logger) FileStorageService {
	return &localFileStorage{
		dir:     cfg.Dir,
		baseURL: cfg.BaseURL,
		maxSize: cfg.MaxFileSize,
		log:     log,
	}
}

func (s *localFileStorage) StoreChatImage(ctx context.Context, file *multipart.FileHeader) (string, error) {
	return s.store(ctx, file, "chat")
}

func (s *localFileStorage) store(_ context.Context, file *multipart.FileHeader, category string) (string, error) {
	if file.Size > s.maxSize {
		return "", fmt.Errorf("%w: file size %d exceeds limit of %d bytes", apperrors.ErrStorage, file.Size, s.maxSize)
	}

	contentType := file.Header.Get("Content-Type")
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", apperrors.ErrStorage, contentType)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrStorage, err)
	}
	defer src.Close()

	targetDir := filepath.Join(s.dir, category)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		s.log.Error("Failed to create upload directory", "dir", targetDir, "error", err)
		return "", fmt.Errorf("%w: %v", apperrors.ErrStorage, err)
	}

	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(targetDir, name))
	if err != nil {
		s.log.Error("Failed to create upload file", "name", name, "error", err)
		return "", fmt.Errorf("%w: %v", apperrors.ErrStorage, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		s.log.Error("Failed to write upload file", "name", name, "error", err)
		return "", fmt.Errorf("%w: %v", apperrors.ErrStorage, err)
	}

	return fmt.Sprintf("%s/uploads/%s/%s", s.baseURL, category, name), nil
}
