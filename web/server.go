// Package web serves the resmo pages on fiber. Every page is driven by the
// session manager state: gated pages render a placeholder while the session
// is loading and send signed out visitors to the login page.
package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/middleware/csrf"
	"github.com/resmoai/resmo-auth/resume"
)

//go:embed views
var viewsFS embed.FS

const (
	defaultLayout        = "layouts/main"
	defaultSettleTimeout = 2 * time.Second
)

// Sessions is the session manager surface used by the handlers.
type Sessions interface {
	CurrentState() auth.Session
	RequireAuthenticated(ctx context.Context, action func(ctx context.Context, identity auth.Identity) error) error
	Watch() (<-chan auth.Session, func())
}

// Accounts signs visitors in and out of the identity provider.
type Accounts interface {
	SignIn(ctx context.Context, email, password string) (auth.Identity, error)
	SignOut(ctx context.Context) error
}

// Registrar creates and verifies accounts.
type Registrar interface {
	Register(ctx context.Context, input auth.RegistrationInput) (auth.Identity, string, error)
	VerifyEmail(ctx context.Context, id, code string) error
}

// Resumes runs the resume operations.
type Resumes interface {
	Optimize(ctx context.Context, req resume.OptimizeRequest) (*resume.OptimizeResult, error)
	Create(ctx context.Context, req resume.CreateRequest) (*resume.CreateResult, error)
}

var _ Sessions = (*auth.SessionManager)(nil)

// Option customizes Server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(logger auth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAccounts enables the login and logout routes.
func WithAccounts(accounts Accounts) Option {
	return func(s *Server) {
		s.accounts = accounts
	}
}

// WithRegistrar enables the registration and verification routes.
func WithRegistrar(registrar Registrar) Option {
	return func(s *Server) {
		s.registrar = registrar
	}
}

// WithResumes enables the dashboard form posts.
func WithResumes(resumes Resumes) Option {
	return func(s *Server) {
		s.resumes = resumes
	}
}

// WithSettleTimeout bounds how long sign in and sign out wait for the session
// to reflect the change before redirecting.
func WithSettleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.settleTimeout = d
		}
	}
}

// WithCSRF protects every form post with tokens signed by key. The key must
// be at least 32 bytes.
func WithCSRF(key []byte) Option {
	return func(s *Server) {
		s.csrfKey = key
	}
}

// WithFiberConfig overrides selected fiber settings. Views and ErrorHandler
// are always set by the server.
func WithFiberConfig(cfg fiber.Config) Option {
	return func(s *Server) {
		s.fiberConfig = cfg
	}
}

// Server is the web surface.
type Server struct {
	app           *fiber.App
	sessions      Sessions
	accounts      Accounts
	registrar     Registrar
	resumes       Resumes
	logger        auth.Logger
	settleTimeout time.Duration
	fiberConfig   fiber.Config
	csrfKey       []byte
}

// New builds the fiber app and registers the routes.
func New(sessions Sessions, opts ...Option) (*Server, error) {
	s := &Server{
		sessions:      sessions,
		logger:        auth.DefaultLogger(),
		settleTimeout: defaultSettleTimeout,
		fiberConfig: fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             10 << 20,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	views, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, err
	}

	cfg := s.fiberConfig
	cfg.Views = django.NewFileSystem(http.FS(views), ".django")
	cfg.ErrorHandler = s.handleError
	s.app = fiber.New(cfg)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	if s.csrfKey != nil {
		s.app.Use(csrf.New(csrf.Config{
			SecureKey: s.csrfKey,
			Skip: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), "/api/")
			},
		}))
	}

	s.app.Get("/", s.index)
	s.app.Get("/login", s.loginPage)
	s.app.Post("/login", s.login)
	s.app.Post("/register", s.register)
	s.app.Get("/verify", s.verify)
	s.app.Post("/logout", s.logout)
	s.app.Get("/api/session", s.sessionJSON)

	dashboard := s.app.Group("/dashboard", s.requireSession)
	dashboard.Get("/", s.dashboard)
	dashboard.Post("/optimize", s.optimize)
	dashboard.Post("/create", s.create)
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("web server listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// awaitSession waits until done reports true for the session state or the
// settle timeout elapses, and returns the last state seen.
func (s *Server) awaitSession(ctx context.Context, done func(auth.Session) bool) auth.Session {
	updates, stop := s.sessions.Watch()
	defer stop()

	state := s.sessions.CurrentState()
	if done(state) {
		return state
	}

	timer := time.NewTimer(s.settleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return state
		case <-timer.C:
			return state
		case next, ok := <-updates:
			if !ok {
				return state
			}
			state = next
			if done(state) {
				return state
			}
		}
	}
}
