package clientapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/registro/internal/contextmenu"
	"github.com/phillip-england/registro/internal/dashboard"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/shift"
)

const testToken = "tok-123"

type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	tokens    []string
	forms     map[string]url.Values
	listFails bool
}

func (f *fakeAPI) record(r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPost {
		f.tokens = append(f.tokens, r.Header.Get(registro.CSRFHeaderName))
		if f.forms == nil {
			f.forms = map[string]url.Values{}
		}
		f.forms[r.URL.Path] = r.PostForm
	}
}

func (f *fakeAPI) form(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func (f *fakeAPI) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /csrf/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]string{"csrf_token": testToken})
	})
	mux.HandleFunc("GET /registros/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.listFails {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{
			"status": "success",
			"registros": [
				{"id": 8, "servidor_nome": "Ana", "servidor_documento": "2", "setor": "-", "veiculo": "-",
				 "data_entrada": "10/03/2025", "hora_entrada": "09:00", "data_saida": "10/03/2025", "hora_saida": "10:00",
				 "saida_pendente": false, "tipo_acesso": "ENTRADA"},
				{"id": 7, "servidor_nome": "Bruno", "servidor_documento": "1", "setor": "Portaria", "veiculo": "-",
				 "data_entrada": "10/03/2025", "hora_entrada": "08:00", "hora_saida": "-",
				 "saida_pendente": true, "tipo_acesso": "ENTRADA"}
			],
			"total_entradas": 2, "total_saidas": 1, "total_pendentes": 1
		}`)
	})
	mux.HandleFunc("GET /registro/7/detalhe/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"id": 7, "servidor": {"nome": "Bruno"}, "data": "2025-03-10", "hora_entrada": "08:00", "hora_saida": "-", "saida_pendente": true}`)
	})
	mux.HandleFunc("POST /registro/7/saida/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Saída registrada com sucesso!"})
	})
	mux.HandleFunc("POST /registro/7/excluir/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Registro excluído com sucesso!"})
	})
	mux.HandleFunc("POST /registro/7/editar/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Registro atualizado com sucesso!"})
	})
	mux.HandleFunc("POST /registro/criar/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Entrada registrada com sucesso!"})
	})
	mux.HandleFunc("POST /registro/manual/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Saída manual registrada com sucesso!"})
	})
	mux.HandleFunc("POST /registro/saida-definitiva/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Saída definitiva registrada com sucesso!"})
	})
	mux.HandleFunc("POST /limpar-dashboard/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch {
		case r.Header.Get(registro.CSRFHeaderName) != testToken:
			writeJSON(w, http.StatusForbidden, registro.Result{Status: "error", Message: "Token CSRF inválido ou ausente."})
		case r.PostForm.Get("senha") != "x":
			writeJSON(w, http.StatusUnauthorized, registro.Result{Status: "error", Message: "Senha incorreta"})
		default:
			writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Dashboard limpo com sucesso! 1 registros removidos."})
		}
	})
	mux.HandleFunc("GET /exportar-excel/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="dashboard_controle_acesso_20250310_1200.xlsx"`)
		_, _ = io.WriteString(w, "planilha")
	})
	mux.HandleFunc("GET /buscar-servidor/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"servidores": []registro.Servidor{{ID: 1, Nome: "Bruno", NumeroDocumento: "1"}}})
	})
	return mux
}

func newTestServer(t *testing.T) (*server, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	apiSrv := httptest.NewServer(api.handler())
	t.Cleanup(apiSrv.Close)

	s, err := newServer(Config{APIBaseURL: apiSrv.URL, Scope: registro.ScopeProduction})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, shift.Manaus) }
	return s, api
}

func serve(s *server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)
	return rec
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query()
}

func TestDashboardRendersSortedRows(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "Plantão")
	assert.Contains(t, body, `value="`+testToken+`"`)
	assert.Contains(t, body, `id="total-pendentes">1<`)
	assert.Contains(t, body, `data-id="7" data-pendente="1"`)
	bruno := strings.Index(body, "Bruno")
	ana := strings.Index(body, "Ana")
	require.NotEqual(t, -1, bruno)
	require.NotEqual(t, -1, ana)
	assert.Less(t, bruno, ana, "earlier entry renders first")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestDashboardShowsErrorNotice(t *testing.T) {
	s, api := newTestServer(t)
	api.listFails = true

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Erro ao carregar registros")
	assert.Contains(t, rec.Body.String(), "notice-error")
}

func TestMenuStateClampsToViewport(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/menu?id=7&x=980&y=780&vw=1000&vh=800&pendente=1&seq=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state menuResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.True(t, state.Open)
	assert.Equal(t, contextmenu.Point{X: 845, Y: 675}, state.Position)
	assert.Equal(t, int64(7), state.TargetID)
	assert.Contains(t, state.Actions, contextmenu.ActionRegisterExit)
	assert.Equal(t, "Registrar saída", state.Labels[contextmenu.ActionRegisterExit])
}

func TestMenuStateRejectsMissingID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/menu?x=1&y=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchRegisterExitSignsRequest(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/acoes", url.Values{
		"acao": {"saida"}, "id": {"7"}, "pendente": {"1"}, csrfFormField: {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Saída registrada com sucesso!", q.Get("sucesso"))
	assert.True(t, api.called("POST /registro/7/saida/"))
	assert.Equal(t, []string{testToken}, api.tokens)
}

func TestDispatchDeleteNeedsJustification(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/acoes", url.Values{
		"acao": {"excluir"}, "id": {"7"}, csrfFormField: {testToken}, "justificativa": {"   "},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "A justificativa é obrigatória", q.Get("erro"))
	assert.False(t, api.called("POST /registro/7/excluir/"))
}

func TestDispatchRejectsExitForClosedRecord(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/acoes", url.Values{
		"acao": {"saida"}, "id": {"7"}, "pendente": {"0"}, csrfFormField: {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Ação não disponível para este registro.", q.Get("erro"))
	assert.False(t, api.called("POST /registro/7/saida/"))
}

func TestDispatchEditRedirectsToForm(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, postForm("/acoes", url.Values{"acao": {"editar"}, "id": {"7"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/registro/7/editar", rec.Header().Get("Location"))
}

func TestEditPagePrefillsForm(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/registro/7/editar", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="data_entrada" value="2025-03-10"`)
	assert.Contains(t, body, `name="hora_entrada" value="08:00"`)
	assert.Contains(t, body, `name="hora_saida" value=""`)
	assert.Contains(t, body, "Bruno")
}

func TestSubmitEditValidationStaysOnForm(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/registro/7/editar", url.Values{
		"data_entrada":  {"2025-03-10"},
		"hora_entrada":  {"08:00"},
		"hora_saida":    {"17:00"},
		"servidor_nome": {"Bruno"},
		csrfFormField:   {testToken},
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Campo faltando: data")
	assert.Contains(t, body, "Se você informar a hora de saída, também precisa informar a data")
	assert.False(t, api.called("POST /registro/7/editar/"))
}

func TestSubmitEditSuccessRedirects(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/registro/7/editar", url.Values{
		"data_entrada":  {"2025-03-10"},
		"hora_entrada":  {"08:00"},
		"data_saida":    {"2025-03-10"},
		"hora_saida":    {"17:00"},
		"servidor_nome": {"Bruno"},
		csrfFormField:   {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Registro atualizado com sucesso!", q.Get("sucesso"))
	assert.True(t, api.called("POST /registro/7/editar/"))
	assert.True(t, api.called("GET /registros/"), "success refreshes the dashboard")
}

func TestClearDashboardSignsWithPostedToken(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/limpar", url.Values{"senha": {"x"}, csrfFormField: {testToken}}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Dashboard limpo com sucesso! 1 registros removidos.", q.Get("sucesso"))
	assert.Empty(t, q.Get("erro"))
	assert.True(t, api.called("POST /limpar-dashboard/"))
	assert.Equal(t, []string{testToken}, api.tokens)
	assert.Equal(t, "x", api.form("/limpar-dashboard/").Get("senha"))

	s.view.mu.Lock()
	defer s.view.mu.Unlock()
	assert.Equal(t, 1, s.view.reloaded)
}

func TestClearDashboardReportsRejection(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/limpar", url.Values{"senha": {"errada"}, csrfFormField: {testToken}}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Senha incorreta", q.Get("erro"))

	_, err := s.csrfToken(context.Background())
	require.NoError(t, err)
	rec = serve(s, postForm("/limpar", url.Values{"senha": {"x"}, csrfFormField: {"tok-velho"}}))
	q = redirectQuery(t, rec)
	assert.Equal(t, "Token CSRF inválido ou ausente.", q.Get("erro"))
	assert.Equal(t, []string{testToken, "tok-velho"}, api.tokens)

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	assert.Empty(t, s.token, "a rejected token is dropped")
}

func TestCreateRegistroForwardsForm(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/registro/criar", url.Values{
		"servidor_id": {"7"}, "tipo_acesso": {"entrada"}, "isv": {"on"}, "veiculo": {" QWE-1A23 "}, csrfFormField: {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Entrada registrada com sucesso!", q.Get("sucesso"))
	assert.Equal(t, []string{testToken}, api.tokens)

	form := api.form("/registro/criar/")
	assert.Equal(t, "7", form.Get("servidor_id"))
	assert.Equal(t, "ENTRADA", form.Get("tipo_acesso"))
	assert.Equal(t, "on", form.Get("isv"))
	assert.Equal(t, "QWE-1A23", form.Get("veiculo"))
	assert.True(t, api.called("GET /registros/"), "success refreshes the dashboard")
}

func TestCreateRegistroRequiresServidor(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/registro/criar", url.Values{"tipo_acesso": {"ENTRADA"}, csrfFormField: {testToken}}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Por favor, selecione um servidor primeiro.", q.Get("erro"))
	assert.False(t, api.called("POST /registro/criar/"))
}

func TestManualRegistroForwardsForm(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/registro/manual", url.Values{
		"servidor_id":      {"7"},
		"tipo_acesso":      {"SAIDA"},
		"data_hora_manual": {"2025-03-10T17:40"},
		"justificativa":    {"Catraca travada"},
		csrfFormField:      {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Saída manual registrada com sucesso!", q.Get("sucesso"))
	assert.Equal(t, []string{testToken}, api.tokens)

	form := api.form("/registro/manual/")
	assert.Equal(t, "2025-03-10T17:40", form.Get("data_hora_manual"))
	assert.Equal(t, "Catraca travada", form.Get("justificativa"))

	rec = serve(s, postForm("/registro/manual", url.Values{
		"servidor_id": {"7"}, "tipo_acesso": {"ENTRADA"}, "data_hora_manual": {"2025-03-10T17:40"}, csrfFormField: {testToken},
	}))
	assert.Equal(t, "A justificativa é obrigatória", redirectQuery(t, rec).Get("erro"))
}

func TestFinalExitForwardsForm(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, postForm("/saida-definitiva", url.Values{
		"nome": {"José"}, "numero_documento": {"99"}, "justificativa": {"Alvará de soltura"}, csrfFormField: {testToken},
	}))
	q := redirectQuery(t, rec)
	assert.Equal(t, "Saída definitiva registrada com sucesso!", q.Get("sucesso"))
	assert.Equal(t, []string{testToken}, api.tokens)

	form := api.form("/registro/saida-definitiva/")
	assert.Equal(t, "José", form.Get("nome"))
	assert.Equal(t, "Alvará de soltura", form.Get("justificativa"))

	rec = serve(s, postForm("/saida-definitiva", url.Values{"nome": {"José"}, csrfFormField: {testToken}}))
	assert.Equal(t, "Por favor, preencha todos os campos obrigatórios.", redirectQuery(t, rec).Get("erro"))
}

func TestExportProxiesSpreadsheet(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/exportar-excel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dashboard_controle_acesso_20250310_1200.xlsx")
	assert.Equal(t, "planilha", rec.Body.String())
	assert.True(t, api.called("GET /exportar-excel/"))
}

func TestExitRuleReportsPairState(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/registro/7/regra?data_saida=2025-03-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rule exitRuleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rule))
	assert.True(t, rule.DataSaida.Required)
	assert.Empty(t, rule.DataSaida.Message)
	assert.True(t, rule.HoraSaida.Required)
	assert.Equal(t, "Se você informar a data de saída, também precisa informar a hora", rule.HoraSaida.Message)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/registro/7/regra", nil))
	var empty exitRuleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&empty))
	assert.Equal(t, exitRuleResponse{}, empty)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/registro/abc/regra", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchSkipsShortQueries(t *testing.T) {
	s, api := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/buscar?query=br", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"servidores": []}`, rec.Body.String())
	assert.False(t, api.called("GET /buscar-servidor/"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/buscar?query=bru", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bruno")
	assert.True(t, api.called("GET /buscar-servidor/"))
}

func TestPageViewFreshness(t *testing.T) {
	v := &pageView{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, ok := v.fresh(now, time.Minute)
	assert.False(t, ok)

	v.Publish(dashboard.Snapshot{RefreshedAt: now})
	_, ok = v.fresh(now.Add(30*time.Second), time.Minute)
	assert.True(t, ok)
	_, ok = v.fresh(now.Add(2*time.Minute), time.Minute)
	assert.False(t, ok)

	v.Reload()
	_, ok = v.fresh(now, time.Minute)
	assert.False(t, ok)
}
