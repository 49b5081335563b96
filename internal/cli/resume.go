package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-print"
	"github.com/resmoai/resmo-auth/resume"
	"github.com/spf13/cobra"
)

const signInTimeout = 30 * time.Second

func newOptimizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Optimize a resume for a job description",
		Long: `Upload a resume (PDF or .txt) and ask the backend to tailor it to a job
description. Prints the match score, the feedback and the link to the
optimized PDF.`,
		Example: `  resmo optimize --file resume.pdf --job "Senior Go engineer"
  resmo optimize --file resume.txt --job-file job.txt`,
		Args: cobra.NoArgs,
		RunE: runOptimize,
	}
	cmd.Flags().StringP("file", "f", "", "resume file to optimize (required)")
	cmd.Flags().StringP("job", "j", "", "job description text")
	cmd.Flags().String("job-file", "", "read the job description from a file")
	cmd.Flags().Bool("json", false, "print the raw result as JSON")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a resume from a prompt",
		Long: `Ask the backend to write a resume from a prompt. An existing resume can
be attached as source material.`,
		Example: `  resmo create --prompt "Backend engineer, 5 years of Go"
  resmo create --prompt "Make it one page" --file resume.pdf`,
		Args: cobra.NoArgs,
		RunE: runCreate,
	}
	cmd.Flags().StringP("prompt", "p", "", "what the resume should contain (required)")
	cmd.Flags().StringP("file", "f", "", "optional resume to start from")
	cmd.Flags().Bool("json", false, "print the raw result as JSON")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	filePath, _ := cmd.Flags().GetString("file")
	job, _ := cmd.Flags().GetString("job")
	jobFile, _ := cmd.Flags().GetString("job-file")
	asJSON, _ := cmd.Flags().GetBool("json")

	if jobFile != "" {
		data, err := os.ReadFile(jobFile)
		if err != nil {
			return fmt.Errorf("read job description: %w", err)
		}
		job = string(data)
	}

	file, err := readResumeFile(filePath)
	if err != nil {
		return err
	}

	a, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.resumes.Optimize(ctx, resume.OptimizeRequest{
		JobDescription: job,
		File:           file,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		fmt.Fprintln(out, print.MaybePrettyJSON(result))
		return nil
	}
	fmt.Fprintf(out, "Match score: %.0f%%\n", result.MatchScore)
	fmt.Fprintf(out, "Feedback:\n%s\n", result.Feedback)
	fmt.Fprintf(out, "Optimized resume: %s\n", result.PDFLink)
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prompt, _ := cmd.Flags().GetString("prompt")
	filePath, _ := cmd.Flags().GetString("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	var file *resume.File
	if filePath != "" {
		f, err := readResumeFile(filePath)
		if err != nil {
			return err
		}
		file = f
	}

	a, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.resumes.Create(ctx, resume.CreateRequest{
		Prompt: prompt,
		File:   file,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		fmt.Fprintln(out, print.MaybePrettyJSON(result))
		return nil
	}
	fmt.Fprintf(out, "Generated resume: %s\n", result.PDFLink)
	return nil
}

// startSession wires the app and blocks until a user is signed in.
func startSession(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	signCtx, cancel := context.WithTimeout(ctx, signInTimeout)
	defer cancel()

	state, err := a.signIn(signCtx)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("signed in as %s", describe(state))
	return a, nil
}

func readResumeFile(path string) (*resume.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resume file: %w", err)
	}
	file := &resume.File{Name: filepath.Base(path), Data: data}
	file.ContentType = resume.DetectContentType(file)
	return file, nil
}
