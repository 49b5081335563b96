package web

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/middleware/csrf"
	"github.com/resmoai/resmo-auth/resume"
)

const sessionLocal = "session"

type flash struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link,omitempty"`
}

func (f flash) binding() fiber.Map {
	return fiber.Map{
		"title":       f.Title,
		"description": f.Description,
		"link":        f.Link,
	}
}

// sessionView is the template and JSON rendering of a session.
type sessionView struct {
	Loading       bool   `json:"loading"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Label         string `json:"label,omitempty"`
	Initial       string `json:"initial,omitempty"`
}

func newSessionView(s auth.Session) sessionView {
	v := sessionView{
		Loading:       s.IsLoading,
		Authenticated: s.IsAuthenticated(),
	}
	if s.Identity != nil {
		v.UserID = s.Identity.ID()
		v.Email = s.Identity.Email()
		v.AvatarURL = s.Identity.AvatarURL()
		v.Label = s.Label()
		v.Initial = s.Initial()
		if s.ResolvedDisplayName != nil {
			v.DisplayName = *s.ResolvedDisplayName
		}
	}
	return v
}

// binding flattens the view into template keys.
func (v sessionView) binding() fiber.Map {
	return fiber.Map{
		"loading":       v.Loading,
		"authenticated": v.Authenticated,
		"user_id":       v.UserID,
		"email":         v.Email,
		"display_name":  v.DisplayName,
		"avatar_url":    v.AvatarURL,
		"label":         v.Label,
		"initial":       v.Initial,
	}
}

func (s *Server) render(c *fiber.Ctx, status int, name string, state auth.Session, bind fiber.Map) error {
	if bind == nil {
		bind = fiber.Map{}
	}
	for key, value := range bind {
		if f, ok := value.(flash); ok {
			bind[key] = f.binding()
		}
	}
	bind["session"] = newSessionView(state).binding()
	if s.csrfKey != nil {
		bind["csrf_field"] = csrf.HiddenField(c)
	}
	return c.Status(status).Render(name, bind, defaultLayout)
}

func (s *Server) renderLoading(c *fiber.Ctx, state auth.Session) error {
	c.Set(fiber.HeaderRetryAfter, "1")
	return s.render(c, fiber.StatusServiceUnavailable, "loading", state, fiber.Map{"title": "Loading"})
}

func (s *Server) index(c *fiber.Ctx) error {
	state := s.sessions.CurrentState()
	return s.render(c, fiber.StatusOK, "index", state, fiber.Map{
		"title":   "Resmo",
		"pending": auth.GatePublic(state) == auth.DecisionPending,
	})
}

func (s *Server) loginPage(c *fiber.Ctx) error {
	state := s.sessions.CurrentState()
	if state.IsAuthenticated() {
		return c.Redirect("/dashboard", fiber.StatusSeeOther)
	}
	return s.renderLogin(c, fiber.StatusOK, state, fiber.Map{})
}

func (s *Server) renderLogin(c *fiber.Ctx, status int, state auth.Session, bind fiber.Map) error {
	bind["title"] = "Log in"
	bind["can_register"] = s.registrar != nil
	return s.render(c, status, "login", state, bind)
}

func (s *Server) login(c *fiber.Ctx) error {
	if s.accounts == nil {
		return fiber.ErrNotFound
	}

	ctx := c.UserContext()
	email := strings.TrimSpace(c.FormValue("email"))
	identity, err := s.accounts.SignIn(ctx, email, c.FormValue("password"))
	if err != nil {
		state := s.sessions.CurrentState()
		status, message := loginFailure(err)
		s.logger.Info("sign in rejected for %s: %v", email, err)
		return s.renderLogin(c, status, state, fiber.Map{"email": email, "error": message})
	}

	s.awaitSession(ctx, func(st auth.Session) bool {
		return st.UserID() == identity.ID()
	})
	return c.Redirect("/dashboard", fiber.StatusSeeOther)
}

func loginFailure(err error) (int, flash) {
	switch {
	case auth.IsEmailNotVerified(err):
		return fiber.StatusForbidden, flash{
			Title:       "Email not verified",
			Description: "Please verify your email before logging in.",
		}
	case auth.IsInvalidCredentials(err):
		return fiber.StatusUnauthorized, flash{Title: "Error", Description: "Invalid email or password."}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation {
		return fiber.StatusBadRequest, flash{Title: "Error", Description: validationMessage(richErr)}
	}
	return fiber.StatusInternalServerError, flash{Title: "Error", Description: "Unable to log in right now."}
}

func (s *Server) register(c *fiber.Ctx) error {
	if s.registrar == nil {
		return fiber.ErrNotFound
	}

	ctx := c.UserContext()
	input := auth.RegistrationInput{
		Email:    c.FormValue("email"),
		Password: c.FormValue("password"),
		Username: c.FormValue("username"),
	}

	identity, code, err := s.registrar.Register(ctx, input)
	state := s.sessions.CurrentState()
	if err != nil && identity == nil {
		status := fiber.StatusInternalServerError
		description := "Unable to create the account right now."
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			switch {
			case richErr.Category == goerrors.CategoryValidation:
				status, description = fiber.StatusBadRequest, validationMessage(richErr)
			case richErr.Category == goerrors.CategoryConflict:
				status, description = fiber.StatusConflict, richErr.Message
			}
		}
		return s.renderLogin(c, status, state, fiber.Map{
			"email": input.Email,
			"error": flash{Title: "Error", Description: description},
		})
	}
	if err != nil {
		s.logger.Warn("registered %s with errors: %v", identity.ID(), err)
	}

	link := "/verify?" + url.Values{"uid": {identity.ID()}, "code": {code}}.Encode()
	return s.renderLogin(c, fiber.StatusCreated, state, fiber.Map{
		"email": identity.Email(),
		"notice": flash{
			Title:       "Verification email sent!",
			Description: "Please check your inbox and verify your email before continuing.",
			Link:        link,
		},
	})
}

func (s *Server) verify(c *fiber.Ctx) error {
	if s.registrar == nil {
		return fiber.ErrNotFound
	}

	ctx := c.UserContext()
	uid := c.Query("uid")
	if err := s.registrar.VerifyEmail(ctx, uid, c.Query("code")); err != nil {
		s.logger.Info("email verification failed for %s: %v", uid, err)
		return s.renderLogin(c, fiber.StatusBadRequest, s.sessions.CurrentState(), fiber.Map{
			"error": flash{Title: "Verification failed", Description: "The verification link is invalid or expired."},
		})
	}

	s.awaitSession(ctx, func(st auth.Session) bool {
		return st.UserID() == uid
	})
	return c.Redirect("/dashboard", fiber.StatusSeeOther)
}

func (s *Server) logout(c *fiber.Ctx) error {
	if s.accounts == nil {
		return fiber.ErrNotFound
	}

	ctx := c.UserContext()
	if err := s.accounts.SignOut(ctx); err != nil {
		return err
	}
	s.awaitSession(ctx, func(st auth.Session) bool {
		return !st.IsLoading && st.Identity == nil
	})
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (s *Server) sessionJSON(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(newSessionView(s.sessions.CurrentState()))
}

// requireSession gates the dashboard on the session state.
func (s *Server) requireSession(c *fiber.Ctx) error {
	state := s.sessions.CurrentState()
	switch auth.Gate(state) {
	case auth.DecisionPending:
		return s.renderLoading(c, state)
	case auth.DecisionSignIn:
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	c.Locals(sessionLocal, state)
	return c.Next()
}

func localSession(c *fiber.Ctx, fallback Sessions) auth.Session {
	if state, ok := c.Locals(sessionLocal).(auth.Session); ok {
		return state
	}
	return fallback.CurrentState()
}

func (s *Server) dashboard(c *fiber.Ctx) error {
	return s.render(c, fiber.StatusOK, "dashboard", localSession(c, s.sessions), fiber.Map{"title": "Dashboard"})
}

func (s *Server) optimize(c *fiber.Ctx) error {
	if s.resumes == nil {
		return fiber.ErrNotFound
	}

	file, err := formFile(c, "resumeFile")
	if err != nil {
		return err
	}

	result, err := s.resumes.Optimize(c.UserContext(), resume.OptimizeRequest{
		JobDescription: c.FormValue("jobDescription"),
		File:           file,
	})
	if err != nil {
		return s.resumeFailure(c, err, "Analysis Failed")
	}

	return s.render(c, fiber.StatusOK, "dashboard", s.sessions.CurrentState(), fiber.Map{
		"title":     "Dashboard",
		"optimized": result,
	})
}

func (s *Server) create(c *fiber.Ctx) error {
	if s.resumes == nil {
		return fiber.ErrNotFound
	}

	file, err := formFile(c, "resumeFile")
	if err != nil {
		return err
	}

	result, err := s.resumes.Create(c.UserContext(), resume.CreateRequest{
		Prompt: c.FormValue("prompt"),
		File:   file,
	})
	if err != nil {
		return s.resumeFailure(c, err, "Generation Failed")
	}

	return s.render(c, fiber.StatusOK, "dashboard", s.sessions.CurrentState(), fiber.Map{
		"title":   "Dashboard",
		"created": result,
	})
}

func (s *Server) resumeFailure(c *fiber.Ctx, err error, title string) error {
	if auth.IsNotAuthenticated(err) {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	status := fiber.StatusInternalServerError
	message := flash{Title: title, Description: "Something went wrong."}

	var richErr *goerrors.Error
	switch {
	case resume.IsUploadFailed(err):
		status = fiber.StatusBadGateway
		message = flash{Title: "Failed to upload file.", Description: "Please try again."}
	case goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation:
		status = fiber.StatusBadRequest
		message = flash{Title: title, Description: validationMessage(richErr)}
	case resume.IsBackendError(err) && goerrors.As(err, &richErr):
		status = richErr.Code
		if status == 0 {
			status = fiber.StatusBadGateway
		}
		message = flash{Title: title, Description: richErr.Message}
	default:
		s.logger.Error("resume request failed: %v", err)
	}

	return s.render(c, status, "dashboard", s.sessions.CurrentState(), fiber.Map{
		"title": "Dashboard",
		"error": message,
	})
}

// formFile reads an optional uploaded file. A missing field, or a body that
// is not multipart, yields nil.
func formFile(c *fiber.Ctx, field string) (*resume.File, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, nil
	}
	return readFileHeader(header)
}

func readFileHeader(header *multipart.FileHeader) (*resume.File, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &resume.File{
		Name:        header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

func validationMessage(err *goerrors.Error) string {
	fields := err.ValidationMap()
	if len(fields) == 0 {
		return err.Message
	}

	parts := make([]string, 0, len(fields))
	for field, msg := range fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		code = richErr.Code
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(strconv.Itoa(code) + " " + http.StatusText(code))
}
