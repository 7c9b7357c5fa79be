package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrowd",
	Short: "burrowd - container lifecycle daemon for embedded devices",
	Long: `burrowd creates, starts, stops and supervises OCI containers on a
single device. It drives an OCI runtime, attaches containers to a private
bridge network and runs configurable plugin hooks around every lifecycle
step.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"burrowd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Settings file (default /etc/burrow/burrow.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configCmd)
}

// loadSettings reads the settings named by the persistent flags and
// initialises logging from them
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		settings.LogLevel = level
		if err := settings.Validate(); err != nil {
			return nil, err
		}
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(settings.LogLevel),
		JSONOutput: settings.LogJSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)
	return settings, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Long: `Run the daemon in the foreground until SIGINT or SIGTERM.

On shutdown every running container is stopped with prejudice and the
container network is torn down.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := newDaemon(ctx, settings)
		if err != nil {
			return err
		}
		return d.serve(ctx)
	},
}

var startCmd = &cobra.Command{
	Use:   "start ID BUNDLE",
	Short: "Run a single container in the foreground",
	Long: `Start the daemon, create container ID from the OCI bundle at BUNDLE and
wait until the container stops or the daemon is interrupted. Useful on
devices without an IPC layer.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		id, bundle := args[0], args[1]

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := newDaemon(ctx, settings)
		if err != nil {
			return err
		}

		changes := d.service.StateChanges(ctx)
		if err := d.service.StartContainerFromBundle(ctx, id, bundle, nil); err != nil {
			d.shutdown()
			return fmt.Errorf("failed to start %s: %w", id, err)
		}
		fmt.Printf("Container %s running\n", id)

		var final types.State
	wait:
		for {
			select {
			case change, ok := <-changes:
				if !ok {
					break wait
				}
				if change.ID == id && change.NewState.Terminal() {
					final = change.NewState
					break wait
				}
			case <-ctx.Done():
				break wait
			}
		}

		d.shutdown()
		if final == types.StateFailed {
			return fmt.Errorf("container %s failed", id)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		settings, err := config.Load(path)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(settings)
	},
}
