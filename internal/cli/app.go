package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/activitymap"
	"github.com/resmoai/resmo-auth/config"
	"github.com/resmoai/resmo-auth/provider/local"
	redisprovider "github.com/resmoai/resmo-auth/provider/redis"
	"github.com/resmoai/resmo-auth/repository"
	"github.com/resmoai/resmo-auth/resume"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"google.golang.org/api/option"
)

// app holds the wired components shared by the commands.
type app struct {
	config   *config.Config
	logger   auth.Logger
	db       *bun.DB
	profiles *repository.ProfileStore
	tokens   *auth.TokenServiceImpl
	local    *local.Provider
	manager  *auth.SessionManager
	handle   *auth.SubscriptionHandle
	backend  *resume.Client
	resumes  *resume.Service
	closers  []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger auth.Logger) (*app, error) {
	a := &app{config: cfg, logger: logger}

	if err := a.openDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.tokens = auth.NewTokenServiceFromConfig(cfg, logger)

	provider, tokens, err := a.identityProvider()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.manager = auth.NewSessionManager(provider, a.profiles,
		auth.WithLogger(logger),
		auth.WithLookupTimeout(cfg.GetLookupTimeout()),
		auth.WithActivitySink(activitymap.Sink(func(record activitymap.Normalized) {
			logger.Debug("session activity %s actor=%s metadata=%s", record.Verb, record.ActorID, print.MaybePrettyJSON(record.Metadata))
		}, activitymap.WithDefaultChannel("cli"))),
	)

	a.handle, err = a.manager.Subscribe(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	uploader, err := a.uploader(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.backend = resume.NewClient(cfg.Backend.URL,
		resume.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		resume.WithBreakerSettings(cfg.BreakerSettings()),
		resume.WithClientLogger(logger),
	)
	a.resumes = resume.NewService(a.manager, tokens, uploader, a.backend,
		resume.WithServiceLogger(logger),
	)

	return a, nil
}

func (a *app) openDatabase(ctx context.Context) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, a.config.Database.DSN)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open profile database")
	}
	sqldb.SetMaxOpenConns(1)

	a.db = bun.NewDB(sqldb, sqlitedialect.New())
	a.closers = append(a.closers, a.db.Close)

	if a.config.Database.Debug {
		a.db.AddQueryHook(queryLogger{logger: a.logger})
	}

	if err := repository.Migrate(ctx, a.db); err != nil {
		return err
	}
	a.profiles = repository.NewProfileStore(a.db)
	return nil
}

func (a *app) identityProvider() (auth.IdentityProvider, auth.TokenSource, error) {
	switch a.config.Identity.Provider {
	case config.ProviderRedis:
		client, err := a.config.NewRedisClient()
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid redis configuration")
		}
		a.closers = append(a.closers, client.Close)
		provider := redisprovider.NewProvider(client,
			redisprovider.WithChannel(a.config.Identity.Channel),
			redisprovider.WithLogger(a.logger),
		)
		return provider, a.tokens, nil
	default:
		a.local = local.New(
			local.WithTokenService(a.tokens),
			local.WithProfileWriter(a.profiles),
			local.WithLogger(a.logger),
		)
		return a.local, a.local, nil
	}
}

func (a *app) uploader(ctx context.Context) (resume.Uploader, error) {
	if a.config.Storage.Driver != config.StorageGCS {
		return resume.NewMemoryUploader(), nil
	}

	var opts []option.ClientOption
	if a.config.Storage.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.config.Storage.CredentialsFile))
	}
	if a.config.Storage.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.config.Storage.Endpoint))
	}
	return resume.NewGCSUploader(ctx, a.config.Storage.Bucket, a.logger, opts...)
}

// signIn makes sure an account is signed in before a one shot command runs.
// With the local provider the configured account is created on first use.
// With the redis provider the identity is published by another process, so
// the command only waits for the first state.
func (a *app) signIn(ctx context.Context) (auth.Session, error) {
	if a.local != nil {
		if a.config.Email == "" || a.config.Password == "" {
			return auth.Session{}, goerrors.New("RESMO_EMAIL and RESMO_PASSWORD are required", goerrors.CategoryBadInput).
				WithTextCode("MISSING_CREDENTIALS")
		}

		_, err := a.local.CreateAccount(ctx, auth.RegistrationInput{
			Email:    a.config.Email,
			Password: a.config.Password,
		}, true)
		if err != nil && !goerrors.Is(err, local.ErrEmailTaken) {
			return auth.Session{}, err
		}

		if _, err := a.local.SignIn(ctx, a.config.Email, a.config.Password); err != nil {
			return auth.Session{}, err
		}
	}

	return a.waitSignedIn(ctx)
}

// waitSignedIn blocks until the session has settled on a signed in user or
// on signed out.
func (a *app) waitSignedIn(ctx context.Context) (auth.Session, error) {
	if _, err := a.manager.WaitReady(ctx); err != nil {
		return auth.Session{}, err
	}

	updates, stop := a.manager.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return auth.Session{}, ctx.Err()
		case state, ok := <-updates:
			if !ok {
				return auth.Session{}, auth.ErrNotAuthenticated
			}
			if state.IsAuthenticated() {
				return state, nil
			}
			if a.local == nil && !state.IsLoading {
				return auth.Session{}, auth.ErrNotAuthenticated
			}
		}
	}
}

// Close releases the subscription and every opened resource.
func (a *app) Close() {
	if a.manager != nil && a.handle != nil {
		a.manager.Cancel(a.handle)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close: %v", err)
		}
	}
	a.closers = nil
}

type queryLogger struct {
	logger auth.Logger
}

func (q queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		q.logger.Warn("sql %s failed: %v", event.Query, event.Err)
		return
	}
	q.logger.Debug("sql %s", event.Query)
}

func describe(s auth.Session) string {
	if s.IsLoading {
		return "loading"
	}
	if !s.IsAuthenticated() {
		return "signed out"
	}
	return fmt.Sprintf("%s (%s)", s.Label(), s.Identity.Email())
}
