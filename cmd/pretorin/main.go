package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pretorin/config"
	"pretorin/internal/cli"
	"pretorin/internal/codexruntime"
	"pretorin/internal/logging"
	"pretorin/version"
)

// exitError carries a process exit code out of a command without printing.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var (
	verbose  bool
	jsonMode bool
)

var rootCmd = &cobra.Command{
	Use:           "pretorin",
	Short:         "Pretorin compliance CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// withApp sets up logging and the application for one command invocation.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	logPath, err := config.GetLogPath()
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.Setup(logging.Config{
		Level:   os.Getenv("PRETORIN_LOG_LEVEL"),
		File:    logPath,
		Stderr:  cmd.ErrOrStderr(),
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	app, err := cli.NewApp(cli.Options{
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
		Logger:  logger,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Debug("command started", "command", cmd.CommandPath(), "version", version.Get())
	return fn(cmd.Context(), app)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the managed coding agent against compliance tasks",
}

var agentRunCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task with the managed agent runtime",
	Long: `Run a task with the managed agent runtime.

The response is streamed to stdout while progress goes to stderr, so the
answer can be piped to other commands. With --json every event is written to
stdout as one JSON object per line.

Examples:
  pretorin agent run "Summarize the AC family gaps"
  pretorin agent run "Draft evidence for AC-2" --skill evidence-collection
  pretorin agent run "List open findings" --json | jq -r 'select(.type=="session.completed") | .response'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Task: args[0], JSON: jsonMode}
		opts.Skill, _ = cmd.Flags().GetString("skill")
		opts.Model, _ = cmd.Flags().GetString("model")
		opts.Endpoint, _ = cmd.Flags().GetString("base-url")
		opts.WorkingDir, _ = cmd.Flags().GetString("working-dir")
		opts.NoStream, _ = cmd.Flags().GetBool("no-stream")
		opts.NoMCP, _ = cmd.Flags().GetBool("no-mcp")
		opts.Timeout, _ = cmd.Flags().GetDuration("timeout")

		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			code, err := cli.RunAgent(ctx, app, opts)
			if code != cli.ExitOK {
				if err != nil {
					app.Logger.Debug("agent run failed", "error", err)
				}
				return &exitError{code: code}
			}
			return err
		})
	},
}

var agentInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download and verify the pinned runtime binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, cli.InstallRuntime)
	},
}

var agentCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached runtime binaries other than the pinned version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.CleanupRuntime(app, dryRun)
		})
	},
}

var agentDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the runtime, credentials and tool server setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir, err := projectDirFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			code, err := cli.Doctor(ctx, app, projectDir, jsonMode)
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		})
	},
}

var agentHistoryCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show recent agent sessions, or one session in full",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		keep, _ := cmd.Flags().GetInt("keep")
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			switch {
			case len(args) == 1:
				return cli.ShowSession(ctx, app, args[0], jsonMode)
			case cmd.Flags().Changed("keep"):
				return cli.PruneHistory(ctx, app, keep)
			}
			return cli.ShowHistory(ctx, app, limit, jsonMode)
		})
	},
}

var agentSkillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List available skills",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ShowSkills(app, jsonMode)
		})
	},
}

var agentMCPListCmd = &cobra.Command{
	Use:   "mcp-list",
	Short: "List registered tool servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir, err := projectDirFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ListProviders(app, projectDir, jsonMode)
		})
	},
}

var agentMCPAddCmd = &cobra.Command{
	Use:   "mcp-add <name> [command] [args...]",
	Short: "Register a tool server for agent sessions",
	Long: `Register a tool server for agent sessions.

Put the server command after "--" so its own flags are passed through.

Examples:
  pretorin agent mcp-add github --env GITHUB_TOKEN=... -- npx -y @modelcontextprotocol/server-github
  pretorin agent mcp-add docs --transport http --url http://localhost:9000/mcp --scope global`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir, err := projectDirFlag(cmd)
		if err != nil {
			return err
		}
		opts := cli.ProviderOptions{Name: args[0], ProjectDir: projectDir}
		if len(args) > 1 {
			opts.Command = args[1]
			opts.Args = args[2:]
		}
		opts.Transport, _ = cmd.Flags().GetString("transport")
		opts.URL, _ = cmd.Flags().GetString("url")
		opts.Env, _ = cmd.Flags().GetStringArray("env")
		opts.Scope, _ = cmd.Flags().GetString("scope")

		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.AddProvider(app, opts)
		})
	},
}

var agentMCPRemoveCmd = &cobra.Command{
	Use:   "mcp-remove <name>",
	Short: "Remove a tool server from both registries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir, err := projectDirFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.RemoveProvider(app, args[0], projectDir)
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write stored settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ConfigGet(app, args[0])
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ConfigSet(app, args[0], args[1])
		})
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ConfigDelete(app, args[0])
		})
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.ConfigList(app, jsonMode)
		})
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [value]",
	Short: "Store the model credential in the system keyring",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 1 {
			value = args[0]
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return cli.SetModelKey(ctx, app, value)
		})
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets stored in the system keyring",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a secret",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 2 {
			value = args[1]
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return cli.SetSecret(ctx, app, args[0], value)
		})
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return cli.DeleteSecret(ctx, app, args[0])
		})
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered secret names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, cli.ListSecrets)
	},
}

var secretStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Check whether a secret is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, app *cli.App) error {
			return cli.SecretStatus(app, args[0])
		})
	},
}

var mcpServeCmd = &cobra.Command{
	Use:    codexruntime.ToolServerCommand,
	Short:  "Run the built-in tool server (started by the agent runtime)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, cli.ServeTools)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func projectDirFlag(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("project-dir")
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "Write machine-readable JSON to stdout")

	agentRunCmd.Flags().String("skill", "", "Skill preset to apply (see 'pretorin agent skills')")
	agentRunCmd.Flags().String("model", "", "Model to use for this run")
	agentRunCmd.Flags().String("base-url", "", "Model API endpoint for this run")
	agentRunCmd.Flags().String("working-dir", "", "Directory the agent works in (default: current directory)")
	agentRunCmd.Flags().Bool("no-stream", false, "Print the response only once the run completes")
	agentRunCmd.Flags().Bool("no-mcp", false, "Run without registered tool servers")
	agentRunCmd.Flags().Duration("timeout", 0, "Cancel the run after this long (0 for no limit)")

	agentCleanupCmd.Flags().Bool("dry-run", false, "Only list what would be removed")
	agentHistoryCmd.Flags().Int("limit", 20, "Number of sessions to show")
	agentHistoryCmd.Flags().Int("keep", 0, "Delete all but the newest N sessions instead of listing")

	for _, cmd := range []*cobra.Command{agentDoctorCmd, agentMCPListCmd, agentMCPAddCmd, agentMCPRemoveCmd} {
		cmd.Flags().String("project-dir", "", "Project whose tool server registry to use (default: current directory)")
	}
	agentMCPAddCmd.Flags().String("transport", "stdio", "Transport: stdio or http")
	agentMCPAddCmd.Flags().String("url", "", "Server URL for http transport")
	agentMCPAddCmd.Flags().StringArray("env", nil, "Environment variable for the server as KEY=VALUE (repeatable)")
	agentMCPAddCmd.Flags().String("scope", "project", "Registry to write: project or global")

	agentCmd.AddCommand(agentRunCmd)
	agentCmd.AddCommand(agentInstallCmd)
	agentCmd.AddCommand(agentCleanupCmd)
	agentCmd.AddCommand(agentDoctorCmd)
	agentCmd.AddCommand(agentHistoryCmd)
	agentCmd.AddCommand(agentSkillsCmd)
	agentCmd.AddCommand(agentMCPListCmd)
	agentCmd.AddCommand(agentMCPAddCmd)
	agentCmd.AddCommand(agentMCPRemoveCmd)

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configDeleteCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetKeyCmd)

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretStatusCmd)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mcpServeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
