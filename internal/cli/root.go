package cli

import (
	"context"

	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/config"
	"github.com/spf13/cobra"
)

type configKeyType struct{}
type loggerKeyType struct{}

var configKey = configKeyType{}
var loggerKey = loggerKeyType{}

// Version is set at build time.
var Version = "dev"

// NewRootCommand builds the resmo command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "resmo",
		Short: "AI resume assistant",
		Long: `Resmo optimizes a resume against a job description and generates new
resumes from a prompt. The work is done by the resmo backend; this tool
handles the session, the file upload and the backend calls.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newOptimizeCommand())
	root.AddCommand(newCreateCommand())
	root.AddCommand(newWhoamiCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the command tree with cfg and logger available to every
// subcommand.
func Execute(ctx context.Context, cfg *config.Config, logger auth.Logger) error {
	return NewRootCommand().ExecuteContext(WithRuntime(ctx, cfg, logger))
}

// WithRuntime stores cfg and logger where the commands look them up.
func WithRuntime(ctx context.Context, cfg *config.Config, logger auth.Logger) context.Context {
	ctx = context.WithValue(ctx, configKey, cfg)
	return context.WithValue(ctx, loggerKey, logger)
}

func getConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	panic("config not found in context")
}

func getLoggerFromContext(ctx context.Context) auth.Logger {
	if logger, ok := ctx.Value(loggerKey).(auth.Logger); ok && logger != nil {
		return logger
	}
	return auth.DefaultLogger()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("resmo %s\n", Version)
		},
	}
}
