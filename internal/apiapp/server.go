package apiapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gitea.com/go-chi/session"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phillip-england/registro/internal/middleware"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/security"
)

const sessionCookieName = "registro_session"

type Config struct {
	Addr          string
	DBPath        string
	ClearPassword string
	SessionTTL    time.Duration
	SecureCookies bool
	Logger        *slog.Logger
}

type server struct {
	store     *sqliteStore
	clearHash string
	logger    *slog.Logger
	now       func() time.Time
}

func newServer(cfg Config, store *sqliteStore) (*server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &server{store: store, logger: logger, now: time.Now}
	if cfg.ClearPassword != "" {
		hash, err := security.HashPassword(cfg.ClearPassword)
		if err != nil {
			return nil, fmt.Errorf("CLEAR_PASSWORD: %w", err)
		}
		s.clearHash = hash
	}
	return s, nil
}

func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("database path is required")
	}
	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	s, err := newServer(cfg, store)
	if err != nil {
		return err
	}
	handler, err := s.routes(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", cfg.Addr, "db", cfg.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) routes(cfg Config) (http.Handler, error) {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	sessioner, err := session.Sessioner(session.Options{
		Provider:       "memory",
		ProviderConfig: "",
		CookieName:     sessionCookieName,
		Secure:         cfg.SecureCookies,
		Gclifetime:     int64(ttl / time.Second),
		Maxlifetime:    int64(ttl / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}))
	r.Use(sessioner)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Recurso não encontrado.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Método não permitido.")
	})

	r.Get("/health", s.health)
	r.Get("/csrf/", s.csrfToken)
	r.Get("/buscar-servidor/", s.searchServidores)
	r.With(limitBody(maxImportSize), s.csrfProtect).Post("/servidores/importar/", s.importServidores)

	s.mountScope(r, registro.ScopeProduction)
	r.Route(registro.ScopeTraining.Prefix(), func(r chi.Router) {
		r.Get("/buscar-servidor/", s.searchServidores)
		s.mountScope(r, registro.ScopeTraining)
	})
	return r, nil
}

// mountScope registers the registro endpoints of one scope. Both scopes share
// handlers; the scope only selects which rows they touch.
func (s *server) mountScope(r chi.Router, scope registro.Scope) {
	r.Get("/registros/", s.listRegistros(scope))
	if scope == registro.ScopeProduction {
		r.Get("/registros-plantao/", s.listRegistros(scope))
	}
	r.Get("/registro/{id}/detalhe/", s.detailRegistro(scope))
	r.Get("/exportar-excel/", s.exportExcel(scope))
	r.Get("/historico/", s.history(scope))

	r.Group(func(r chi.Router) {
		r.Use(s.csrfProtect)
		r.Post("/registro/criar/", s.createRegistro(scope))
		r.Post("/registro/manual/", s.createManual(scope))
		r.Post("/registro/saida-definitiva/", s.finalExit(scope))
		r.Post("/registro/{id}/editar/", s.editRegistro(scope))
		r.Post("/registro/{id}/excluir/", s.deleteRegistro(scope))
		r.Post("/registro/{id}/saida/", s.registerExit(scope))
		r.Post("/limpar-dashboard/", s.clearDashboard(scope))
	})
}
