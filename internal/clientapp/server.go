package clientapp

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/phillip-england/registro/internal/dashboard"
	"github.com/phillip-england/registro/internal/middleware"
	"github.com/phillip-england/registro/internal/registro"
)

//go:embed templates/dashboard.html templates/editar.html templates/layout.html assets/app.css assets/app.js
var templatesFS embed.FS

type Config struct {
	Addr            string
	APIBaseURL      string
	Scope           registro.Scope
	RefreshInterval time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Logger          *slog.Logger
}

type server struct {
	scope           registro.Scope
	client          *registro.Client
	loop            *dashboard.Loop
	view            *pageView
	logger          *slog.Logger
	refreshInterval time.Duration
	now             func() time.Time

	dashboardTmpl *template.Template
	editTmpl      *template.Template

	tokenMu sync.Mutex
	token   string
}

func newServer(cfg Config) (*server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	scope := cfg.Scope
	if scope == "" {
		scope = registro.ScopeProduction
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	s := &server{
		scope: scope,
		client: registro.NewClient(registro.Config{
			BaseURL:    cfg.APIBaseURL,
			Scope:      scope,
			HTTPClient: &http.Client{Timeout: 8 * time.Second, Jar: jar},
			Logger:     logger,
		}),
		view:            &pageView{},
		logger:          logger,
		refreshInterval: cfg.RefreshInterval,
		now:             time.Now,
		dashboardTmpl:   template.Must(template.New("layout.html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/dashboard.html")),
		editTmpl:        template.Must(template.New("layout.html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/editar.html")),
	}
	s.loop = dashboard.New(s.client, s.view, dashboard.Options{
		Interval: cfg.RefreshInterval,
		Scope:    scope,
		Logger:   logger,
		Now:      func() time.Time { return s.now() },
	})
	return s, nil
}

func Run(ctx context.Context, cfg Config) error {
	s, err := newServer(cfg)
	if err != nil {
		return err
	}

	go func() {
		if err := s.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("dashboard loop stopped", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("client listening", "addr", cfg.Addr, "scope", s.scope, "export", s.client.ExportURL())
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

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.dashboardPage)
	mux.HandleFunc("GET /menu", s.menuState)
	mux.HandleFunc("POST /acoes", s.dispatchAction)
	mux.HandleFunc("GET /registro/{id}/editar", s.editPage)
	mux.HandleFunc("POST /registro/{id}/editar", s.submitEdit)
	mux.HandleFunc("GET /registro/{id}/regra", s.exitRule)
	mux.HandleFunc("POST /registro/criar", s.createRegistro)
	mux.HandleFunc("POST /registro/manual", s.createManual)
	mux.HandleFunc("POST /saida-definitiva", s.finalExit)
	mux.HandleFunc("POST /limpar", s.clearDashboard)
	mux.HandleFunc("GET /buscar", s.searchServidores)
	mux.HandleFunc("GET /exportar-excel", s.exportExcel)
	mux.HandleFunc("GET /assets/app.css", s.assetFile("assets/app.css", "text/css; charset=utf-8"))
	mux.HandleFunc("GET /assets/app.js", s.assetFile("assets/app.js", "text/javascript; charset=utf-8"))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self'",
		"img-src 'self' data:",
		"script-src 'self'",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) assetFile(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := templatesFS.ReadFile(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	}
}

// csrfToken returns the API session token, fetching it on first use.
func (s *server) csrfToken(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	token, err := s.client.FetchCSRFToken(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// forgetToken drops a token the API rejected so the next page fetches a new one.
func (s *server) forgetToken(err error) {
	var appErr *registro.ApplicationError
	if !errors.As(err, &appErr) || appErr.StatusCode != http.StatusForbidden {
		return
	}
	s.tokenMu.Lock()
	s.token = ""
	s.tokenMu.Unlock()
}

// signedClient signs mutations with the token the page posted back.
func (s *server) signedClient(r *http.Request) *registro.Client {
	return s.client.WithTokens(registro.StaticToken(r.PostFormValue(csrfFormField)))
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}
