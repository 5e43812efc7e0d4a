package cli

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/ratelimit"
	"github.com/authgate/authgate/internal/server"
	"github.com/authgate/authgate/internal/service"
)

const banner = `
   _   _   _ _____ _  _  ___   _ _____ ___
  /_\ | | | |_   _| || |/ __| /_\_   _| __|
 / _ \| |_| | | | | __ | (_ |/ _ \| | | _|
/_/ \_\\___/  |_| |_||_|\___/_/ \_\_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authgate server",
		Long:  "Start the HTTP server that authenticates requests and guards the back-office routes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return runServeDaemon()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run in the background, detached from the terminal")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// runServeDaemon re-executes the current binary in the background with the
// same arguments minus the daemon flag, then returns immediately.
func runServeDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	args := []string{"serve"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: authgate stop")
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Logging, dev)

	st, err := openStore(logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "path", resolveDataDir())

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = viper.GetString("auth.jwt_secret")
	}
	if secret == "" {
		if !dev {
			return fmt.Errorf("auth.jwt_secret is not set (use AUTHGATE_AUTH_JWT_SECRET or the config file)")
		}
		secret = "authgate-dev-secret-change-me"
		logger.Warn("using built-in development JWT secret; never use this in production")
	}

	tokens := service.NewTokenService(secret,
		config.Duration(cfg.Auth.AccessTokenTTL, time.Hour),
		config.Duration(cfg.Auth.RefreshTokenTTL, 168*time.Hour),
		cfg.Auth.BcryptCost, nil)
	verifier := service.NewKeyVerifier(st, nil)
	resolver := service.NewResolver(st, tokens, verifier, nil)

	limiter := ratelimit.New(nil)
	limiter.Start(config.Duration(cfg.RateLimit.SweepInterval, 5*time.Minute))
	defer limiter.Stop()

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	} else {
		defer removePID()
	}

	srv := server.New(cfg, st, tokens, resolver, limiter, logger)

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	fmt.Printf("→ Listening on %s://%s:%d\n", scheme, cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ API:    %s://%s:%d/api/v1\n", scheme, cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health: %s://%s:%d/healthz\n", scheme, cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
