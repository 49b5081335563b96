package resume

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/resmoai/resmo-auth"
)

// ServiceOption customizes Service.
type ServiceOption func(*Service)

// WithServiceLogger overrides the service logger.
func WithServiceLogger(logger auth.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceClock injects a custom clock, used for upload paths.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs the resume operations for the signed in user.
type Service struct {
	gate     Gate
	tokens   auth.TokenSource
	uploader Uploader
	backend  Backend
	logger   auth.Logger
	now      func() time.Time
}

// NewService wires the session gate, token source, uploader and backend.
func NewService(gate Gate, tokens auth.TokenSource, uploader Uploader, backend Backend, opts ...ServiceOption) *Service {
	s := &Service{
		gate:     gate,
		tokens:   tokens,
		uploader: uploader,
		backend:  backend,
		logger:   auth.DefaultLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Optimize uploads the resume and asks the backend to score it against the
// job description. It returns auth.ErrNotAuthenticated when signed out.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error) {
	var result *OptimizeResult

	err := s.gate.RequireAuthenticated(ctx, func(ctx context.Context, identity auth.Identity) error {
		req.JobDescription = strings.TrimSpace(req.JobDescription)
		if err := req.Validate(); err != nil {
			return err
		}

		objectPath := OptimizeUploadPath(identity.ID(), req.File, s.now())
		if err := s.upload(ctx, objectPath, req.File); err != nil {
			return err
		}

		token, err := s.token(ctx, identity)
		if err != nil {
			return err
		}

		result, err = s.backend.Optimize(ctx, token, req.JobDescription, objectPath)
		if err != nil {
			s.logger.Error("optimize failed for user=%s: %v", identity.ID(), err)
			return err
		}

		s.logger.Info("optimized resume for user=%s score=%.2f", identity.ID(), result.MatchScore)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Create asks the backend to generate a resume from the prompt, uploading
// the optional input resume first.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	var result *CreateResult

	err := s.gate.RequireAuthenticated(ctx, func(ctx context.Context, identity auth.Identity) error {
		req.Prompt = strings.TrimSpace(req.Prompt)
		if err := req.Validate(); err != nil {
			return err
		}

		var objectPath string
		if req.File != nil {
			objectPath = CreateUploadPath(identity.ID(), req.File, s.now())
			if err := s.upload(ctx, objectPath, req.File); err != nil {
				return err
			}
		}

		token, err := s.token(ctx, identity)
		if err != nil {
			return err
		}

		result, err = s.backend.Create(ctx, token, req.Prompt, objectPath)
		if err != nil {
			s.logger.Error("create failed for user=%s: %v", identity.ID(), err)
			return err
		}

		s.logger.Info("created resume for user=%s", identity.ID())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) upload(ctx context.Context, objectPath string, f *File) error {
	if err := s.uploader.Upload(ctx, objectPath, DetectContentType(f), bytes.NewReader(f.Data)); err != nil {
		s.logger.Error("upload %s failed: %v", objectPath, err)
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to upload file").
			WithTextCode(TextCodeUploadFailed).
			WithCode(http.StatusBadGateway).
			WithMetadata(map[string]any{"path": objectPath})
	}
	return nil
}

func (s *Service) token(ctx context.Context, identity auth.Identity) (string, error) {
	token, err := s.tokens.Token(ctx, identity)
	if err != nil {
		if auth.IsNotAuthenticated(err) {
			return "", err
		}
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "failed to obtain id token").
			WithCode(goerrors.CodeUnauthorized)
	}
	return token, nil
}
