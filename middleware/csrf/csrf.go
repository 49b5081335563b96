// Package csrf protects form posts with stateless HMAC signed tokens.
//
// Safe requests get a fresh token stored in the fiber locals; unsafe
// requests must send a token, in the form or a header, that was signed with
// the same key for the same session key and has not expired.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuth).
				WithTextCode("CSRF_MISMATCH").
				WithCode(fiber.StatusForbidden)
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryBadInput).
			WithTextCode("CSRF_MISSING").
			WithCode(fiber.StatusBadRequest)
	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuth).
			WithTextCode("CSRF_EXPIRED").
			WithCode(fiber.StatusForbidden)
)

const (
	DefaultTokenLength   = 32
	DefaultContextKey    = "csrf_token"
	DefaultFormFieldName = "_token"
	DefaultHeaderName    = "X-CSRF-Token"
	DefaultExpiration    = 24 * time.Hour
	minKeyLength         = 32
)

// Config defines the configuration for the CSRF middleware.
type Config struct {
	// Skip bypasses the middleware when it returns true.
	Skip func(c *fiber.Ctx) bool

	TokenLength   int
	ContextKey    string
	FormFieldName string
	HeaderName    string

	// SessionKey binds a token to the caller. Defaults to the client IP.
	SessionKey func(c *fiber.Ctx) string

	ErrorHandler fiber.ErrorHandler
	SafeMethods  []string
	Expiration   time.Duration

	// SecureKey signs the tokens and must be at least 32 bytes. A random
	// key is generated when empty, which invalidates tokens on restart.
	SecureKey []byte

	Now func() time.Time
}

// New creates the middleware.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		token, err := generateToken(c, cfg)
		if err != nil {
			return err
		}
		c.Locals(cfg.ContextKey, token)
		c.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)

		if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
			return c.Next()
		}

		if err := validateToken(c, cfg); err != nil {
			return cfg.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

// Token returns the token stored for the current request.
func Token(c *fiber.Ctx) string {
	token, _ := c.Locals(DefaultContextKey).(string)
	return token
}

// HiddenField renders the hidden form input carrying the current token.
func HiddenField(c *fiber.Ctx) string {
	field, _ := c.Locals(DefaultContextKey + "_field").(string)
	if field == "" {
		field = DefaultFormFieldName
	}
	return `<input type="hidden" name="` + html.EscapeString(field) + `" value="` + html.EscapeString(Token(c)) + `">`
}

func generateToken(c *fiber.Ctx, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate CSRF nonce")
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce), cfg.SessionKey(c))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(c *fiber.Ctx, cfg Config) error {
	received := extractToken(c, cfg)
	if received == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(received)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(cfg.SessionKey(c))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && cfg.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}
	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	if token := c.FormValue(cfg.FormFieldName); token != "" {
		return token
	}
	return c.Get(cfg.HeaderName)
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.SessionKey == nil {
		cfg.SessionKey = func(c *fiber.Ctx) string {
			return "ip_" + c.IP()
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)
	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return c.Status(richErr.Code).SendString(richErr.Message)
	}
	return c.Status(fiber.StatusInternalServerError).SendString("CSRF validation error")
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < minKeyLength {
			panic(fmt.Errorf("csrf: secure key must be at least %d bytes, got %d", minKeyLength, len(current)))
		}
		return current
	}
	key := make([]byte, minKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
