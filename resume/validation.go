package resume

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/resmoai/resmo-auth"
)

const (
	optimizedPrefix = "optimized_"
	uploadRoot      = "resumes"
)

var allowedExtensions = map[string]string{
	".pdf": ContentTypePDF,
	".txt": ContentTypeText,
}

// DetectContentType resolves the media type of f, preferring the declared
// content type and falling back to the file extension. It returns "" when
// neither is a supported resume type.
func DetectContentType(f *File) string {
	if f == nil {
		return ""
	}
	if declared := strings.TrimSpace(f.ContentType); declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			switch mediaType {
			case ContentTypePDF, ContentTypeText:
				return mediaType
			}
		}
	}
	ext := strings.ToLower(path.Ext(f.BaseName()))
	return allowedExtensions[ext]
}

func supportedFile(value any) error {
	f, _ := value.(*File)
	if f == nil {
		return nil
	}
	if f.BaseName() == "" {
		return fmt.Errorf("file name is required")
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("file is empty")
	}
	if DetectContentType(f) == "" {
		return fmt.Errorf("please upload a PDF or .txt file")
	}
	return nil
}

// Validate checks an optimize request. A resume file is required.
func (r OptimizeRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.File,
			validation.By(func(value any) error {
				if f, _ := value.(*File); f == nil {
					return fmt.Errorf("no resume file selected")
				}
				return nil
			}),
			validation.By(supportedFile),
		),
	)
	return wrapValidation(err, "invalid optimize request")
}

// Validate checks a create request. The prompt is required, the file is
// optional.
func (r CreateRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required.Error("prompt is required")),
		validation.Field(&r.File, validation.By(supportedFile)),
	)
	return wrapValidation(err, "invalid create request")
}

func wrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	return auth.ValidationError(err, message).
		WithTextCode(TextCodeInvalidRequest).
		WithCode(goerrors.CodeBadRequest)
}

// OptimizeUploadPath is the storage path of a resume uploaded for
// optimization.
func OptimizeUploadPath(uid string, f *File, now time.Time) string {
	return UploadPath(uid, optimizedPrefix, f.BaseName(), now)
}

// CreateUploadPath is the storage path of a resume uploaded as input to
// resume generation.
func CreateUploadPath(uid string, f *File, now time.Time) string {
	return UploadPath(uid, "", f.BaseName(), now)
}

// UploadPath builds resumes/<uid>/<prefix><unix-millis>_<name>.
func UploadPath(uid, prefix, name string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s%d_%s", uploadRoot, uid, prefix, now.UnixMilli(), name)
}
