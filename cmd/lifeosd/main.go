package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/daemon"
	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/lock"
	"github.com/anthropic/lifeos/internal/report"
	"github.com/anthropic/lifeos/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lifeosd",
		Short: "Track your cognitive resource in real time",
		Long: "lifeosd is a daemon that turns input telemetry and wearable data into a " +
			"single per-second estimate of how much focus you have left.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(heartRateCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(rhythmCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func startCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lifeosd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !foreground {
				// The lock record names the holder; a ping confirms it is
				// actually serving.
				client := ipc.NewClient(cfg.SocketPath)
				if err := client.Ping(); err == nil {
					if info, err := lock.Read(cfg.LockPath); err == nil {
						fmt.Printf("daemon is already running (pid %d)\n", info.PID)
					} else {
						fmt.Println("daemon is already running")
					}
					return nil
				}
				return daemonize(cfg)
			}

			if err := logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// Create IPC server first (with nil store -- daemon will set it).
			ipcServer := ipc.NewServer(nil, nil, logger.Get())

			d := daemon.New(cfg, ipcServer, daemon.WithLogger(logger.Get()))

			// Now wire the daemon back into the IPC server.
			ipcServer.SetDaemon(d)

			// Start blocks until signal or error.
			return d.Start()
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground (don't daemonize)")

	return cmd
}

// daemonize re-execs the binary with --foreground in its own session and
// waits for the child to answer a ping.
func daemonize(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	// Ensure data directory exists for log file.
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logPath := filepath.Join(cfg.DataDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}

	child := exec.Command(exe, "start", "--foreground")
	child.Stdin = nil
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start background daemon: %w", err)
	}

	// Parent no longer needs the log file handle.
	logFile.Close()

	childPID := child.Process.Pid
	// Detach from the child so it won't become a zombie.
	_ = child.Process.Release()

	// Poll IPC ping to confirm child is healthy (up to 5s).
	client := ipc.NewClient(cfg.SocketPath)
	healthy := false
	for i := 0; i < 25; i++ {
		time.Sleep(200 * time.Millisecond)
		if err := client.Ping(); err == nil {
			healthy = true
			break
		}
	}

	if !healthy {
		return fmt.Errorf("daemon failed to start (check %s)", logPath)
	}

	printBanner()
	fmt.Printf("  daemon started (pid %d)\n\n", childPID)
	return nil
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the lifeosd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.RequestStop(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}

			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Ping(); err != nil {
				fmt.Println("daemon is not running")
				return err
			}

			fmt.Println("daemon is alive")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(status))
			} else {
				fmt.Print(report.FormatStatus(status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// The provider token never leaves the process.
			if cfg.Biometric.Token != "" {
				cfg.Biometric.Token = "********"
			}
			fmt.Println(report.FormatJSON(cfg))
			return nil
		},
	})

	return cmd
}

func printBanner() {
	const teal = "\033[38;5;37m"
	const dim = "\033[38;5;66m"
	const bold = "\033[1m"
	const reset = "\033[0m"

	fmt.Print(teal + bold + `
  _  _   __         ___   ____
 | |(_) / _| ___   / _ \ / ___|
 | || || |_ / _ \ | | | |\___ \
 | || ||  _|  __/ | |_| | ___) |
 |_||_||_|  \___|  \___/ |____/
` + reset + dim + `
    Know how much focus you have left
` + reset + "\n")
}
