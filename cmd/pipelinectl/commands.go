package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shortgen/internal/bootstrap"
	"shortgen/internal/domain"
	"shortgen/internal/infra"
	"shortgen/internal/pipeline"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the short-form video pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")

	env := &cliEnv{verbose: &verbose}
	root.AddCommand(
		newSweepCmd(env),
		newRunCmd(env),
		newStatusCmd(env),
		newSignCallbackCmd(env),
		newSetCredentialCmd(env),
	)
	return root
}

type cliEnv struct {
	verbose *bool
}

func (e *cliEnv) config() (*infra.Config, zerolog.Logger, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := zerolog.Nop()
	if *e.verbose {
		logger = infra.NewLogger(cfg.AppEnv)
	}
	return cfg, logger, nil
}

func (e *cliEnv) services(ctx context.Context) (*bootstrap.Services, error) {
	cfg, logger, err := e.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSweepCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Args:  cobra.NoArgs,
		Short: "Run one watchdog pass and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			wd, err := svc.Watchdog(svc.Orchestrator)
			if err != nil {
				return err
			}
			defer wd.Close()
			report, err := wd.Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newRunCmd(env *cliEnv) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "run <job_id>",
		Args:  cobra.ExactArgs(1),
		Short: "Run or resume a job in the foreground",
		Long:  `Runs the job until it completes, fails or suspends on pending clips.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var step domain.Stage
			if resume != "" {
				st, err := domain.ParseStage(resume)
				if err != nil {
					return err
				}
				step = st
			}
			ctx := cmd.Context()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			job, err := svc.Store.Jobs.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			runErr := svc.Orchestrator.Run(ctx, pipeline.RunRequest{ProjectID: job.ProjectID, JobID: job.ID, ResumeStep: step})
			if job, err = svc.Store.Jobs.GetByID(ctx, job.ID); err == nil {
				_ = printJSON(cmd.OutOrStdout(), job)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&resume, "resume-step", "", "stage to resume from")
	return cmd
}

func newStatusCmd(env *cliEnv) *cobra.Command {
	var events int
	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Args:  cobra.ExactArgs(1),
		Short: "Print a job and its most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			job, err := svc.Store.Jobs.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			list, err := svc.Store.Events.ListByJob(ctx, job.ID)
			if err != nil {
				return err
			}
			if events >= 0 && len(list) > events {
				list = list[len(list)-events:]
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"job": job, "events": list})
		},
	}
	cmd.Flags().IntVarP(&events, "events", "n", 10, "number of trailing events to show")
	return cmd
}

func newSignCallbackCmd(env *cliEnv) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "sign-callback <project_id> <job_id> <scene_index>",
		Args:  cobra.ExactArgs(3),
		Short: "Print the signed callback URL for a scene",
		RunE: func(cmd *cobra.Command, args []string) error {
			scene, err := strconv.Atoi(args[2])
			if err != nil || scene < 0 {
				return fmt.Errorf("invalid scene index %q", args[2])
			}
			cfg, _, err := env.config()
			if err != nil {
				return err
			}
			signer, err := pipeline.NewCallbackSigner(cfg.PublicBaseURL, cfg.WebhookSecret)
			if err != nil {
				return err
			}
			if provider == "" {
				provider = cfg.ClipProvider
			}
			url := signer.URL(pipeline.CallbackTarget{Provider: provider, ProjectID: args[0], JobID: args[1], SceneIndex: scene})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), url)
			return err
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "clip provider name (defaults to CLIP_PROVIDER)")
	return cmd
}

func newSetCredentialCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "set-credential <text|clip> <token>",
		Args:  cobra.ExactArgs(2),
		Short: "Store a provider API token in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := env.services(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			if svc.Credentials == nil {
				return fmt.Errorf("credentials need STORE_DRIVER=%s", infra.StoreDriverPostgres)
			}
			if err := svc.Credentials.SetToken(ctx, args[0], args[1], nil); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s token\n", args[0])
			return err
		},
	}
}
