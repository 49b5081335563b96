// Package resume wires the two backend resume operations behind the session
// gate: the request is validated, the resume file (if any) is uploaded to
// object storage, and the storage path is sent to the backend together with a
// freshly minted id token.
package resume

import (
	"context"
	"io"
	"path"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/resmoai/resmo-auth"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeText = "text/plain"
)

const (
	TextCodeUploadFailed       = "UPLOAD_FAILED"
	TextCodeBackendError       = "BACKEND_ERROR"
	TextCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	TextCodeInvalidRequest     = "INVALID_RESUME_REQUEST"
)

// File is a resume document provided by the user.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// BaseName returns the file name without any directory component.
func (f *File) BaseName() string {
	if f == nil {
		return ""
	}
	name := strings.ReplaceAll(f.Name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// OptimizeRequest asks the backend to score a resume against a job
// description.
type OptimizeRequest struct {
	JobDescription string
	File           *File
}

// OptimizeResult is the backend answer to an optimize request.
type OptimizeResult struct {
	MatchScore float64 `json:"match_score"`
	Feedback   string  `json:"feedback"`
	PDFLink    string  `json:"pdf_link"`
}

// CreateRequest asks the backend to generate a resume from a prompt, with an
// optional existing resume as input.
type CreateRequest struct {
	Prompt string
	File   *File
}

// CreateResult is the backend answer to a create request.
type CreateResult struct {
	PDFLink string `json:"pdf_link"`
}

// Uploader stores resume files in object storage.
type Uploader interface {
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) error
}

// Backend performs the resume RPCs. fileURL is a storage path, empty when no
// file was uploaded.
type Backend interface {
	Optimize(ctx context.Context, idToken, prompt, fileURL string) (*OptimizeResult, error)
	Create(ctx context.Context, idToken, prompt, fileURL string) (*CreateResult, error)
}

// Gate is the part of the session manager the service depends on.
type Gate interface {
	RequireAuthenticated(ctx context.Context, action func(context.Context, auth.Identity) error) error
}

// IsUploadFailed reports whether err came from the upload step.
func IsUploadFailed(err error) bool {
	return hasTextCode(err, TextCodeUploadFailed)
}

// IsBackendError reports whether err came from the backend call.
func IsBackendError(err error) bool {
	return hasTextCode(err, TextCodeBackendError) || hasTextCode(err, TextCodeBackendUnavailable)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
