// Command sandboxd runs an untrusted project (a set of source files plus
// an ordered list of shell commands) inside an nsjail sandbox and reports
// the result of each command.
//
// Copyright (c) 2024 Javad Rajabzadeh Inc. All rights reserved.
//
// * GitHub: https://github.com/sandboxd/sandboxd
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/jailargs"
	"github.com/sandboxd/sandboxd/internal/langs"
	"github.com/sandboxd/sandboxd/internal/runner"
	"github.com/sandboxd/sandboxd/internal/sandboxexec"
	"github.com/sandboxd/sandboxd/internal/telemetry"
	"github.com/sandboxd/sandboxd/pkg/system/cgroup"
	"github.com/sandboxd/sandboxd/pkg/types"
)

type cliOpts struct {
	configPath string
	format     string
	pretty     bool
	lang       string
	file       string
	timeout    float64
	debug      bool
}

func main() {
	var o cliOpts

	root := &cobra.Command{
		Use:   "sandboxd",
		Short: "Run untrusted code inside an nsjail sandbox",
		Long: `sandboxd stages a project's source files into a scratch directory and
runs its commands one at a time inside an nsjail sandbox, reporting each
command's stdout, stderr, exit code, and elapsed time.

* GitHub: https://github.com/sandboxd/sandboxd`,
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "path to a sandboxd YAML config file")
	root.PersistentFlags().BoolVar(&o.debug, "debug", false, "verbose nsjail log output and per-command telemetry")

	runCmd := &cobra.Command{
		Use:   "run [project.json]",
		Short: "Run a project, either from a JSON file or a single --lang/--file source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var projectPath string
			if len(args) == 1 {
				projectPath = args[0]
			}
			return runProject(cmd.Context(), o, projectPath)
		},
	}
	runCmd.Flags().StringVar(&o.format, "format", "json", "output format: json, table, or csv")
	runCmd.Flags().BoolVar(&o.pretty, "pretty", false, "indent JSON output")
	runCmd.Flags().StringVar(&o.lang, "lang", "", "run a single file with this language's interpreter instead of a project file")
	runCmd.Flags().StringVar(&o.file, "file", "", "source file to stage when --lang is set")
	runCmd.Flags().Float64Var(&o.timeout, "timeout", 0, "per-command timeout in seconds (0 = use the configured default)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func runProject(ctx context.Context, o cliOpts, projectPath string) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg)

	project, err := loadProject(o, cfg, projectPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl := cgroup.NewController(cfg.CgroupParent, cfg.CgroupMemMax, logger)
	profile, err := ctrl.Profile()
	if err != nil {
		return fmt.Errorf("cgroup profile: %w", err)
	}

	builder := jailargs.NewBuilder(jailargs.Config{
		NsjailBin:     cfg.NsjailBin,
		NsjailCfg:     cfg.NsjailCfg,
		CgroupMemMax:  cfg.CgroupMemMax,
		CgroupPidsMax: cfg.CgroupPidsMax,
	}, profile)

	executor := sandboxexec.NewExecutor(builder, logger, sandboxexec.WithDebug(o.debug))
	run := runner.New(executor)

	for i := range project.Commands {
		if project.Commands[i].Timeout == 0 {
			if o.timeout > 0 {
				project.Commands[i].Timeout = o.timeout
			} else {
				project.Commands[i].Timeout = cfg.DefaultTimeout
			}
		}
	}

	responses := run.Run(ctx, project.Sources, project.Commands)

	if cfg.LogLevel == "debug" {
		logTelemetry(logger, profile, project.Commands, cfg.CgroupMemMax)
	}

	return render(o.format, o.pretty, responses)
}

// loadProject resolves the project to run: either a JSON envelope read
// from projectPath, or a single-file, single-command project synthesized
// from --lang/--file.
func loadProject(o cliOpts, cfg config.Config, projectPath string) (types.Project, error) {
	if o.lang != "" && projectPath != "" {
		return types.Project{}, fmt.Errorf("--lang/--file is mutually exclusive with a project file argument")
	}

	if o.lang != "" {
		if o.file == "" {
			return types.Project{}, fmt.Errorf("--lang requires --file")
		}
		contents, err := os.ReadFile(o.file)
		if err != nil {
			return types.Project{}, fmt.Errorf("read %q: %w", o.file, err)
		}
		spec, ok := langs.Registry[o.lang]
		if !ok {
			return types.Project{}, langs.ErrUnknownLanguage(o.lang)
		}
		virtualPath := "main" + spec.FileSuffix
		command, err := langs.CommandFor(o.lang, virtualPath)
		if err != nil {
			return types.Project{}, err
		}
		timeout := cfg.DefaultTimeout
		if o.timeout > 0 {
			timeout = o.timeout
		}
		return types.Project{
			Sources:  types.Sourcefiles{virtualPath: string(contents)},
			Commands: []types.Command{{Command: command, Timeout: timeout}},
		}, nil
	}

	if projectPath == "" {
		return types.Project{}, fmt.Errorf("either a project file or --lang/--file is required")
	}
	data, err := os.ReadFile(projectPath)
	if err != nil {
		return types.Project{}, fmt.Errorf("read %q: %w", projectPath, err)
	}
	var project types.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return types.Project{}, fmt.Errorf("parse project %q: %w", projectPath, err)
	}
	return project, nil
}

// logTelemetry best-effort samples the parent cgroup's memory counters
// once after a batch of commands finishes, labeling the record with the
// last command that ran. nsjail tears down each invocation's own child
// cgroup on exit, so a per-command cgroup path isn't observable from here;
// the parent's high-water mark is the closest available signal for a
// single-tenant run and is logged for diagnostics only.
func logTelemetry(logger *slog.Logger, profile cgroup.Profile, commands []types.Command, capBytes int64) {
	if len(commands) == 0 {
		return
	}
	var sample telemetry.Sample
	if profile.Version == 2 {
		sample = telemetry.ReadV2(profile.MemoryDir())
	} else {
		sample = telemetry.ReadV1(profile.MemoryDir())
	}
	telemetry.LogSample(logger, commands[len(commands)-1].Command, sample, capBytes)
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler).With("env", cfg.Env)
	slog.SetDefault(logger)
	return logger
}

func render(format string, pretty bool, responses []types.Response) error {
	switch format {
	case "table":
		return renderTable(responses)
	case "csv":
		return renderCSV(responses)
	case "json", "":
		return renderJSON(pretty, responses)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderJSON(pretty bool, responses []types.Response) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(responses, "", "  ")
	} else {
		data, err = json.Marshal(responses)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func renderTable(responses []types.Response) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXIT\tELAPSED(ms)\tSTDOUT\tSTDERR")
	for _, r := range responses {
		fmt.Fprintf(tw, "%d\t%.1f\t%q\t%q\n", r.ExitCode, r.ElapsedTime*1000, r.Stdout, r.Stderr)
	}
	return tw.Flush()
}

func renderCSV(responses []types.Response) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write([]string{"exit_code", "elapsed_time", "stdout", "stderr"}); err != nil {
		return err
	}
	for _, r := range responses {
		if err := w.Write([]string{
			strconv.Itoa(r.ExitCode),
			strconv.FormatFloat(r.ElapsedTime, 'f', 6, 64),
			r.Stdout,
			r.Stderr,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
