package resume

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	auth "github.com/resmoai/resmo-auth"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSUploader stores objects in a Google Cloud Storage bucket through the
// JSON API.
type GCSUploader struct {
	bucket  string
	service *storage.Service
	logger  auth.Logger
}

var _ Uploader = (*GCSUploader)(nil)

// NewGCSUploader creates an uploader for bucket. Client options are passed
// to storage.NewService, e.g. option.WithCredentialsFile or
// option.WithEndpoint for an emulator.
func NewGCSUploader(ctx context.Context, bucket string, logger auth.Logger, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if logger == nil {
		logger = auth.DefaultLogger()
	}

	service, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	return &GCSUploader{
		bucket:  bucket,
		service: service,
		logger:  logger,
	}, nil
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) error {
	object := &storage.Object{
		Name:        objectPath,
		ContentType: contentType,
	}

	stored, err := u.service.Objects.
		Insert(u.bucket, object).
		Media(r, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("gcs insert %s/%s: %w", u.bucket, objectPath, err)
	}

	u.logger.Debug("uploaded gs://%s/%s (%d bytes)", u.bucket, stored.Name, stored.Size)
	return nil
}

// StoredObject is an object kept by MemoryUploader.
type StoredObject struct {
	Path        string
	ContentType string
	Data        []byte
}

// MemoryUploader keeps uploaded objects in memory. It backs the local
// development setup and tests.
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string]StoredObject
	// Err, when set, is returned by every Upload call.
	Err error
}

var _ Uploader = (*MemoryUploader)(nil)

// NewMemoryUploader returns an empty in-memory uploader.
func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: map[string]StoredObject{}}
}

// Upload implements Uploader.
func (u *MemoryUploader) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.mu.Lock()
	failure := u.Err
	u.mu.Unlock()
	if failure != nil {
		return failure
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string]StoredObject{}
	}
	u.objects[objectPath] = StoredObject{
		Path:        objectPath,
		ContentType: contentType,
		Data:        buf.Bytes(),
	}
	return nil
}

// Object returns the object stored at objectPath.
func (u *MemoryUploader) Object(objectPath string) (StoredObject, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	obj, ok := u.objects[objectPath]
	return obj, ok
}

// Paths lists stored object paths in lexical order.
func (u *MemoryUploader) Paths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	paths := make([]string, 0, len(u.objects))
	for p := range u.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
