package registrocli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/phillip-england/registro/internal/apiapp"
	"github.com/phillip-england/registro/internal/clientapp"
	"github.com/phillip-england/registro/internal/config"
	"github.com/phillip-england/registro/internal/envutil"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/security"
)

var ErrUsage = errors.New("usage")

const envFile = ".env"

// Execute runs the command named by args[0] against the process streams.
func Execute(args []string) error {
	return (&command{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}).execute(args)
}

type command struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func (c *command) execute(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return c.runSetup(args[1:])
	case "run":
		return c.runCommand(args[1:])
	case "registros":
		return c.runRegistros(args[1:])
	case "help", "-h", "--help":
		PrintUsage(c.out)
		return nil
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: registro <setup|run|registros> [...]", ErrUsage)
}

func PrintUsage(w io.Writer) {
	lines := []string{
		"usage: registro setup [--clear-password <senha>] [--scope producao|treinamento] [--db-path data/registro.db] [--env-file .env] [--force]",
		"       registro run api|client|all",
		"       registro registros list|watch [--scope treinamento]",
		"       registro registros export [--out arquivo.xlsx]",
		"       registro registros clear --senha <senha>",
		"       registro registros buscar <nome ou documento>",
		"       registro registros historico [--scope treinamento]",
		"       registro registros saida <id>",
		"       registro registros excluir <id> --justificativa <texto>",
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func (c *command) runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	clearPass := fs.String("clear-password", "", "password required to clear the dashboard (min 8 chars)")
	scope := fs.String("scope", string(registro.ScopeProduction), "deployment scope: producao | treinamento")
	dbPath := fs.String("db-path", "data/registro.db", "sqlite database path")
	envPath := fs.String("env-file", envFile, "path to .env file")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parsedScope, err := registro.ParseScope(*scope)
	if err != nil {
		return fmt.Errorf("invalid --scope: %w", err)
	}
	if *clearPass != "" {
		if _, err := security.HashPassword(*clearPass); err != nil {
			return fmt.Errorf("invalid clear password: %w", err)
		}
	}

	defaults := config.Default()
	values := map[string]string{
		"API_ADDR":                  defaults.API.Addr,
		"CLIENT_ADDR":               defaults.Client.Addr,
		"API_BASE_URL":              defaults.Client.APIBaseURL,
		"REGISTRO_DB_PATH":          *dbPath,
		"REGISTRO_SCOPE":            parsedScope.String(),
		"REGISTRO_REFRESH_INTERVAL": defaults.Registro.RefreshInterval.String(),
		"REGISTRO_LOG_LEVEL":        defaults.Log.Level,
		"CLEAR_PASSWORD":            *clearPass,
	}

	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %s\n", *envPath)
	return nil
}

func (c *command) runCommand(args []string) error {
	if len(args) < 1 {
		return errors.New("missing run target: api | client | all")
	}

	cfg, logger, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "api":
		return runAPI(ctx, cfg, logger)
	case "client":
		return runClient(ctx, cfg, logger)
	case "all":
		return runAll(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown run target %q", args[0])
	}
}

// loadConfig reads .env, then the layered config, and builds the process
// logger from it.
func (c *command) loadConfig() (config.Config, *slog.Logger, error) {
	if err := envutil.LoadDotEnv(envFile); err != nil {
		return config.Config{}, nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := parseLogLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func apiConfig(cfg config.Config, logger *slog.Logger) apiapp.Config {
	return apiapp.Config{
		Addr:          cfg.API.Addr,
		DBPath:        cfg.DB.Path,
		ClearPassword: cfg.API.ClearPassword,
		SecureCookies: strings.HasPrefix(cfg.Client.APIBaseURL, "https://"),
		Logger:        logger.With("app", "api"),
	}
}

func clientConfig(cfg config.Config, logger *slog.Logger) clientapp.Config {
	return clientapp.Config{
		Addr:            cfg.Client.Addr,
		APIBaseURL:      cfg.Client.APIBaseURL,
		Scope:           cfg.Registro.Scope,
		RefreshInterval: cfg.Registro.RefreshInterval,
		ReadTimeout:     cfg.Client.ReadTimeout,
		WriteTimeout:    cfg.Client.WriteTimeout,
		Logger:          logger.With("app", "client"),
	}
}

func runAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	apiCfg := apiConfig(cfg, logger)
	if err := ensureParentDirs(apiCfg.DBPath); err != nil {
		return err
	}
	if err := apiapp.Run(ctx, apiCfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runClient(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := clientapp.Run(ctx, clientConfig(cfg, logger)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAll(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	errCh := make(chan error, 2)

	go func() { errCh <- runAPI(ctx, cfg, logger) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runClient(ctx, cfg, logger)
	}()

	for i := 0; i < 2; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid REGISTRO_LOG_LEVEL %q", raw)
	}
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		if p == "" || p == ":memory:" {
			continue
		}
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid registro id %q", raw)
	}
	return id, nil
}
