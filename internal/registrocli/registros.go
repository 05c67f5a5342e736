package registrocli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/phillip-england/registro/internal/chrono"
	"github.com/phillip-england/registro/internal/config"
	"github.com/phillip-england/registro/internal/dashboard"
	"github.com/phillip-england/registro/internal/editflow"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/table"
)

const requestTimeout = 15 * time.Second

// registrosCmd holds what every registros subcommand shares: a client bound
// to one scope and the loop that prints refreshes.
type registrosCmd struct {
	*command
	client *registro.Client
	loop   *dashboard.Loop
	logger *slog.Logger
	now    func() time.Time
}

func (c *command) runRegistros(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: registro registros <list|watch|export|clear|buscar|historico|saida|excluir>", ErrUsage)
	}
	cfg, logger, err := c.loadConfig()
	if err != nil {
		return err
	}

	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet("registros "+name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	apiURL := fs.String("api", cfg.Client.APIBaseURL, "api base url")
	scope := fs.String("scope", cfg.Registro.Scope.String(), "producao | treinamento")
	out := fs.String("out", "", "export file (default dashboard_<timestamp>.xlsx)")
	senha := fs.String("senha", "", "clear password")
	justificativa := fs.String("justificativa", "", "deletion justification")
	interval := fs.Duration("interval", cfg.Registro.RefreshInterval, "watch refresh interval")
	positional, err := parseInterspersed(fs, rest)
	if err != nil {
		return err
	}
	parsedScope, err := registro.ParseScope(*scope)
	if err != nil {
		return fmt.Errorf("invalid --scope: %w", err)
	}

	base, parsedScope := apiTarget(*apiURL, parsedScope)
	cmd, err := c.newRegistrosCmd(cfg, logger, base, parsedScope, *interval)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch name {
	case "list":
		return cmd.list(ctx)
	case "watch":
		return cmd.watch(ctx)
	case "export":
		return cmd.export(ctx, *out)
	case "clear":
		return cmd.clear(ctx, *senha)
	case "buscar":
		return cmd.search(ctx, strings.Join(positional, " "))
	case "historico":
		return cmd.history(ctx)
	case "saida":
		if len(positional) != 1 {
			return fmt.Errorf("%w: registro registros saida <id>", ErrUsage)
		}
		return cmd.registerExit(ctx, positional[0])
	case "excluir":
		if len(positional) != 1 {
			return fmt.Errorf("%w: registro registros excluir <id> --justificativa <texto>", ErrUsage)
		}
		return cmd.delete(ctx, positional[0], *justificativa)
	default:
		return fmt.Errorf("unknown registros command %q", name)
	}
}

// parseInterspersed lets flags follow positional arguments, as in
// "excluir 12 --justificativa texto".
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// apiTarget accepts a base url copied from a training page, such as
// http://host:8080/treinamento, and splits off the scope it names.
func apiTarget(raw string, scope registro.Scope) (string, registro.Scope) {
	u, err := url.Parse(raw)
	if err != nil || registro.ScopeFromPath(u.Path) != registro.ScopeTraining {
		return raw, scope
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/treinamento")
	return u.String(), registro.ScopeTraining
}

func (c *command) newRegistrosCmd(cfg config.Config, logger *slog.Logger, apiURL string, scope registro.Scope, interval time.Duration) (*registrosCmd, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base := registro.NewClient(registro.Config{
		BaseURL:    apiURL,
		Scope:      scope,
		HTTPClient: &http.Client{Timeout: cfg.Client.WriteTimeout, Jar: jar},
		Logger:     logger,
	})
	client := base.WithTokens(&sessionToken{client: base})

	cmd := &registrosCmd{command: c, client: client, logger: logger, now: time.Now}
	cmd.loop = dashboard.New(client, &textView{out: c.out}, dashboard.Options{
		Interval: interval,
		Debounce: 200 * time.Millisecond,
		Scope:    scope,
		Logger:   logger,
	})
	return cmd, nil
}

func (r *registrosCmd) list(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return r.loop.Refresh(ctx)
}

// watch prints a refresh on every tick and whenever Enter is pressed, until
// interrupted or stdin closes.
func (r *registrosCmd) watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			r.loop.Trigger()
		}
		cancel()
	}()

	err := r.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *registrosCmd) export(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := r.client.List(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		path = exportName(r.client.Scope(), r.now())
	}
	if err := ensureParentDirs(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := table.WriteXLSX(f, table.Render(chrono.Sort(res.Records))); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "wrote %s (%d registros)\n", path, len(res.Records))
	return nil
}

func exportName(scope registro.Scope, now time.Time) string {
	prefix := "dashboard_controle_acesso"
	if scope == registro.ScopeTraining {
		prefix = "dashboard_treinamento"
	}
	return prefix + "_" + now.Format("20060102_1504") + ".xlsx"
}

func (r *registrosCmd) clear(ctx context.Context, senha string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := r.loop.ClearAll(ctx, senha)
	if err != nil {
		return errors.New(registro.UserMessage(err))
	}
	fmt.Fprintln(r.out, res.Message)
	return r.loop.Refresh(ctx)
}

func (r *registrosCmd) search(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	servidores, err := r.client.SearchServidores(ctx, query)
	if err != nil {
		return err
	}
	if len(servidores) == 0 {
		fmt.Fprintln(r.out, "Nenhum servidor encontrado.")
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNome\tDocumento\tSetor\tVeículo")
	for _, s := range servidores {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Nome, s.NumeroDocumento, s.Setor, s.Veiculo)
	}
	return tw.Flush()
}

func (r *registrosCmd) history(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	entries, err := r.client.History(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "Nenhuma alteração registrada.")
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Data\tRegistro\tAção\tJustificativa")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.CriadoEm, e.RegistroID, e.Acao, e.Justificativa)
	}
	return tw.Flush()
}

func (r *registrosCmd) registerExit(ctx context.Context, rawID string) error {
	id, err := parseRecordID(rawID)
	if err != nil {
		return err
	}
	return r.workflow().RegisterExit(ctx, id)
}

func (r *registrosCmd) delete(ctx context.Context, rawID, justificativa string) error {
	id, err := parseRecordID(rawID)
	if err != nil {
		return err
	}
	return r.workflow().Delete(ctx, id, justificativa)
}

func (r *registrosCmd) workflow() *editflow.Workflow {
	return editflow.New(r.client, &linePresenter{out: r.out, errOut: r.errOut, logger: r.logger}, r.loop, r.logger)
}

// sessionToken fetches the API's anti-forgery token once per process. The
// client shares its cookie jar, so the session the token belongs to follows.
type sessionToken struct {
	client *registro.Client

	mu    sync.Mutex
	token string
}

func (t *sessionToken) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" {
		return t.token, nil
	}
	token, err := t.client.FetchCSRFToken(ctx)
	if err != nil {
		return "", err
	}
	t.token = token
	return token, nil
}

// textView prints every published snapshot as a header, counters and table.
type textView struct {
	mu  sync.Mutex
	out io.Writer
}

func (v *textView) Publish(s dashboard.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s | %s | atualizado %s\n", s.Scope.Label(), s.Shift.Label(), s.RefreshedAt.Format("02/01/2006 15:04:05"))
	fmt.Fprintf(v.out, "Entradas: %d  Saídas: %d  Pendentes: %d\n", s.Counters.Entradas, s.Counters.Saidas, s.Counters.Pendentes)
	if err := table.Write(v.out, s.Body); err != nil {
		fmt.Fprintln(v.out, err)
	}
	fmt.Fprintln(v.out)
}

func (v *textView) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, "Dashboard limpo, recarregando.")
}

// linePresenter reports workflow notifications as single lines: successes on
// stdout, failures on stderr.
type linePresenter struct {
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
}

func (p *linePresenter) ShowLoading(title string) { p.logger.Debug(title) }

func (p *linePresenter) HideLoading() {}

func (p *linePresenter) ShowForm(editflow.Form) {}

func (p *linePresenter) ShowValidation(message string) {
	fmt.Fprintln(p.errOut, message)
}

func (p *linePresenter) Success(message string) {
	fmt.Fprintln(p.out, message)
}

func (p *linePresenter) Error(message string) {
	fmt.Fprintln(p.errOut, "erro: "+message)
}
