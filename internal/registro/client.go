package registro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CSRFHeaderName      = "X-CSRFToken"
	RequestIDHeaderName = "X-Request-ID"
	// MinSearchLength is the shortest servidor query sent to the server.
	MinSearchLength = 3
	maxErrorBody    = 512
)

// TokenSource supplies the anti-forgery token for mutating requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token read once, e.g. from the page's hidden form field.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

type Config struct {
	BaseURL    string
	Scope      Scope
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
}

// Client talks to the registro endpoints of one scope. It has no view side
// effects and never retries.
type Client struct {
	baseURL    string
	scope      Scope
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	scope := cfg.Scope
	if scope == "" {
		scope = ScopeProduction
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		scope:      scope,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		logger:     logger,
	}
}

func (c *Client) Scope() Scope {
	return c.scope
}

// WithTokens returns a copy of c that signs mutations with tokens.
func (c *Client) WithTokens(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

type listResponse struct {
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	Registros      []Record `json:"registros"`
	Data           []Record `json:"data"`
	TotalEntradas  *int     `json:"total_entradas"`
	TotalSaidas    *int     `json:"total_saidas"`
	TotalPendentes *int     `json:"total_pendentes"`
}

func (c *Client) List(ctx context.Context) (*ListResult, error) {
	body, status, err := c.send(ctx, http.MethodGet, c.path("/registros/"), nil, nil)
	if err != nil {
		return nil, err
	}

	var records []Record
	var counters *Counters
	if firstByte(body) == '[' {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, malformed(status, body, err)
		}
	} else {
		var payload listResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, malformed(status, body, err)
		}
		records = payload.Registros
		if records == nil {
			records = payload.Data
		}
		if payload.TotalEntradas != nil || payload.TotalSaidas != nil || payload.TotalPendentes != nil {
			counters = &Counters{
				Entradas:  derefInt(payload.TotalEntradas),
				Saidas:    derefInt(payload.TotalSaidas),
				Pendentes: derefInt(payload.TotalPendentes),
			}
		}
	}

	for i := range records {
		records[i].normalize()
	}
	if records == nil {
		records = []Record{}
	}
	return &ListResult{Records: records, Counters: counters}, nil
}

func (c *Client) Detail(ctx context.Context, id int64) (*Detail, error) {
	body, status, err := c.send(ctx, http.MethodGet, c.recordPath(id, "detalhe"), nil, nil)
	if err != nil {
		return nil, err
	}
	var detail Detail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, malformed(status, body, err)
	}
	if detail.ID == 0 {
		detail.ID = id
	}
	return &detail, nil
}

func (c *Client) Create(ctx context.Context, form EntryForm) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, c.path("/registro/criar/"), form.Values())
}

func (c *Client) CreateManual(ctx context.Context, form ManualEntryForm) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, c.path("/registro/manual/"), form.Values())
}

func (c *Client) Update(ctx context.Context, id int64, form EditForm) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, c.recordPath(id, "editar"), form.Values())
}

func (c *Client) Delete(ctx context.Context, id int64, justificativa string) (*Result, error) {
	trimmed, err := validateJustification(justificativa)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, c.recordPath(id, "excluir"), url.Values{"justificativa": {trimmed}})
}

func (c *Client) RegisterExit(ctx context.Context, id int64) (*Result, error) {
	return c.mutate(ctx, c.recordPath(id, "saida"), url.Values{})
}

func (c *Client) ClearAll(ctx context.Context, senha string) (*Result, error) {
	form := url.Values{}
	if strings.TrimSpace(senha) != "" {
		form.Set("senha", senha)
	}
	return c.mutate(ctx, c.path("/limpar-dashboard/"), form)
}

func (c *Client) FinalExit(ctx context.Context, form FinalExitForm) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, c.path("/registro/saida-definitiva/"), form.Values())
}

// History returns the audit trail of edits and deletions, oldest first.
func (c *Client) History(ctx context.Context) ([]AuditEntry, error) {
	body, status, err := c.send(ctx, http.MethodGet, c.path("/historico/"), nil, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Auditoria []AuditEntry `json:"auditoria"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, malformed(status, body, err)
	}
	if payload.Auditoria == nil {
		payload.Auditoria = []AuditEntry{}
	}
	return payload.Auditoria, nil
}

// SearchServidores returns no results, without a request, for queries shorter
// than MinSearchLength.
func (c *Client) SearchServidores(ctx context.Context, query string) ([]Servidor, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchLength {
		return []Servidor{}, nil
	}
	body, status, err := c.send(ctx, http.MethodGet, c.path("/buscar-servidor/"), url.Values{"query": {query}}, nil)
	if err != nil {
		return nil, err
	}
	var servidores []Servidor
	if firstByte(body) == '[' {
		if err := json.Unmarshal(body, &servidores); err != nil {
			return nil, malformed(status, body, err)
		}
	} else {
		var payload struct {
			Servidores []Servidor `json:"servidores"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, malformed(status, body, err)
		}
		servidores = payload.Servidores
	}
	if servidores == nil {
		servidores = []Servidor{}
	}
	return servidores, nil
}

// ExportURL is the spreadsheet download address for this scope.
func (c *Client) ExportURL() string {
	return c.baseURL + c.path("/exportar-excel/")
}

// OpenExport starts the spreadsheet download. The caller closes the body.
func (c *Client) OpenExport(ctx context.Context) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.path("/exportar-excel/"), nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, responseError(resp, body)
	}
	return resp, nil
}

// FetchCSRFToken asks the server for a session token, establishing the
// session cookie when the http.Client has a jar.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	body, status, err := c.send(ctx, http.MethodGet, "/csrf/", nil, nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", malformed(status, body, err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return "", malformed(status, body, fmt.Errorf("empty csrf_token"))
	}
	return payload.Token, nil
}

func (c *Client) mutate(ctx context.Context, path string, form url.Values) (*Result, error) {
	if c.tokens == nil {
		return nil, ErrMissingToken
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("csrf token: %w", err)
	}
	headers := http.Header{}
	headers.Set(CSRFHeaderName, token)
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.send(ctx, http.MethodPost, path, nil, &requestBody{form: form, headers: headers})
	if err != nil {
		return nil, err
	}
	result := &Result{Status: "success"}
	if len(bytes.TrimSpace(body)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, malformed(status, body, err)
	}
	return result, nil
}

type requestBody struct {
	form    url.Values
	headers http.Header
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, rb *requestBody) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if rb != nil {
		reader = strings.NewReader(rb.form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set(RequestIDHeaderName, uuid.NewString())
	if rb != nil {
		for key, values := range rb.headers {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}
	return req, nil
}

// send performs one request and returns the body of a successful response.
// Non-2xx responses and status:"error" bodies come back as errors.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, rb *requestBody) ([]byte, int, error) {
	req, err := c.newRequest(ctx, method, path, query, rb)
	if err != nil {
		return nil, 0, err
	}
	requestID := req.Header.Get(RequestIDHeaderName)
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("registro request failed", "method", method, "path", path, "request_id", requestID, "err", err)
		return nil, 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("registro request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(started),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, responseError(resp, body)
	}
	if firstByte(body) == '{' {
		var envelope Result
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, resp.StatusCode, malformed(resp.StatusCode, body, err)
		}
		if envelope.Status == "error" {
			return nil, resp.StatusCode, &ApplicationError{StatusCode: resp.StatusCode, Message: envelope.Message}
		}
	}
	return body, resp.StatusCode, nil
}

// responseError classifies a non-2xx response. A JSON body with status
// "error" is an application error; anything else is a transport error whose
// message comes from the body when possible, else from the status line.
func responseError(resp *http.Response, body []byte) error {
	var envelope struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = strings.TrimSpace(envelope.Error)
		}
		if envelope.Status == "error" {
			return &ApplicationError{StatusCode: resp.StatusCode, Message: message}
		}
		if message != "" {
			return &TransportError{StatusCode: resp.StatusCode, Message: message}
		}
	}
	return &TransportError{
		StatusCode: resp.StatusCode,
		Message:    "Erro na requisição: " + statusLine(resp),
	}
}

func statusLine(resp *http.Response) string {
	if strings.TrimSpace(resp.Status) != "" {
		return resp.Status
	}
	return strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode)
}

func malformed(status int, body []byte, err error) error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	return &MalformedResponseError{StatusCode: status, Body: snippet, Err: err}
}

func (c *Client) path(suffix string) string {
	return c.scope.Prefix() + suffix
}

func (c *Client) recordPath(id int64, action string) string {
	return c.path("/registro/" + strconv.FormatInt(id, 10) + "/" + action + "/")
}

func firstByte(body []byte) byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
