package clientapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/registro/internal/contextmenu"
	"github.com/phillip-england/registro/internal/editflow"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/table"
)

const pageRefreshTimeout = 15 * time.Second

func (s *server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.view.fresh(s.now(), s.refreshInterval)
	if !ok {
		ctx, cancel := context.WithTimeout(r.Context(), pageRefreshTimeout)
		_ = s.loop.Refresh(ctx)
		cancel()
		snap = s.loop.Last()
	}

	token, err := s.csrfToken(r.Context())
	if err != nil {
		s.logger.Warn("fetch csrf token", "err", err)
	}

	query := r.URL.Query()
	data := pageData{
		Title:          pageTitle(s.scope),
		Scope:          s.scope,
		CSRF:           token,
		Success:        query.Get("sucesso"),
		Error:          query.Get("erro"),
		RefreshSeconds: int(s.refreshInterval / time.Second),
		Snapshot:       snap,
		Columns:        table.Columns,
		ActionName:     actionNames(),
	}
	if err := renderHTMLTemplate(w, s.dashboardTmpl, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("dashboard template render failed", "err", err)
	}
}

type menuResponse struct {
	contextmenu.State
	Labels map[contextmenu.Action]string `json:"labels"`
}

// menuState positions the row menu for a click and lists its actions. The
// page keeps the single dismiss listener; this only answers where and what.
func (s *server) menuState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := parseID(q.Get("id"))
	if id <= 0 {
		writeJSON(w, http.StatusBadRequest, registro.Result{Status: "error", Message: "Registro inválido."})
		return
	}
	menu := contextmenu.New(contextmenu.Size{Width: atoi(q.Get("vw")), Height: atoi(q.Get("vh"))}, nil)
	menu.Measure(contextmenu.Size{Width: atoi(q.Get("mw")), Height: atoi(q.Get("mh"))})
	state := menu.Open(
		contextmenu.PointerEvent{Seq: uint64(atoi(q.Get("seq"))), At: contextmenu.Point{X: atoi(q.Get("x")), Y: atoi(q.Get("y"))}},
		registro.Record{ID: id, SaidaPendente: formBool(q.Get("pendente"))},
	)
	writeJSON(w, http.StatusOK, menuResponse{State: state, Labels: actionNames()})
}

// dispatchAction runs a row action chosen from the menu. The record id comes
// from the posted data attribute and the action goes through a typed table.
func (s *server) dispatchAction(w http.ResponseWriter, r *http.Request) {
	action, err := contextmenu.ParseAction(r.PostFormValue("acao"))
	if err != nil {
		http.Redirect(w, r, redirectWith("erro", "Ação desconhecida."), http.StatusSeeOther)
		return
	}
	id := parseID(r.PostFormValue("id"))
	if id <= 0 {
		http.Redirect(w, r, redirectWith("erro", "Registro inválido."), http.StatusSeeOther)
		return
	}

	p := &pagePresenter{}
	wf := editflow.New(s.signedClient(r), p, s.loop, s.logger)
	var target string
	handlers := map[contextmenu.Action]contextmenu.Handler{
		contextmenu.ActionEdit: func(_ context.Context, id int64) error {
			target = "/registro/" + strconv.FormatInt(id, 10) + "/editar"
			return nil
		},
		contextmenu.ActionDelete: func(ctx context.Context, id int64) error {
			return wf.Delete(ctx, id, r.PostFormValue("justificativa"))
		},
		contextmenu.ActionRegisterExit: wf.RegisterExit,
	}

	menu := contextmenu.New(contextmenu.Size{}, handlers)
	menu.Open(contextmenu.PointerEvent{Seq: 1}, registro.Record{ID: id, SaidaPendente: formBool(r.PostFormValue("pendente"))})
	if err := menu.Select(r.Context(), action); err != nil {
		s.forgetToken(err)
		message := p.failure()
		if errors.Is(err, contextmenu.ErrActionForbidden) {
			message = "Ação não disponível para este registro."
		}
		if message == "" {
			message = registro.UserMessage(err)
		}
		http.Redirect(w, r, redirectWith("erro", message), http.StatusSeeOther)
		return
	}
	if target != "" {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, redirectWith("sucesso", p.success), http.StatusSeeOther)
}

func (s *server) editPage(w http.ResponseWriter, r *http.Request) {
	id := parseID(r.PathValue("id"))
	p := &pagePresenter{}
	wf := editflow.New(s.client, p, s.loop, s.logger)
	if err := wf.Begin(r.Context(), id); err != nil {
		http.Redirect(w, r, redirectWith("erro", p.failure()), http.StatusSeeOther)
		return
	}
	s.renderEdit(w, r, http.StatusOK, p.form, "")
}

func (s *server) submitEdit(w http.ResponseWriter, r *http.Request) {
	id := parseID(r.PathValue("id"))
	if id <= 0 {
		http.Redirect(w, r, redirectWith("erro", "Registro inválido."), http.StatusSeeOther)
		return
	}
	values := registro.EditForm{
		DataEntrada:   r.PostFormValue("data_entrada"),
		HoraEntrada:   r.PostFormValue("hora_entrada"),
		DataSaida:     r.PostFormValue("data_saida"),
		HoraSaida:     r.PostFormValue("hora_saida"),
		ISV:           formBool(r.PostFormValue("isv")),
		Justificativa: r.PostFormValue("justificativa"),
	}

	p := &pagePresenter{}
	wf := editflow.New(s.signedClient(r), p, s.loop, s.logger)
	wf.Resume(id, r.PostFormValue("servidor_nome"), values)
	if err := wf.Submit(r.Context(), values); err != nil {
		s.forgetToken(err)
		form := wf.Form()
		status := http.StatusUnprocessableEntity
		if wf.Outcome() == editflow.SubmitFailed {
			status = http.StatusBadGateway
		}
		s.renderEdit(w, r, status, &form, p.failure())
		return
	}
	http.Redirect(w, r, redirectWith("sucesso", p.success), http.StatusSeeOther)
}

type exitRuleResponse struct {
	DataSaida registro.FieldState `json:"data_saida"`
	HoraSaida registro.FieldState `json:"hora_saida"`
}

// exitRule answers the edit page's live check of the exit date/time pair, so
// the page script carries no copy of the rule or its messages.
func (s *server) exitRule(w http.ResponseWriter, r *http.Request) {
	id := parseID(r.PathValue("id"))
	if id <= 0 {
		writeJSON(w, http.StatusBadRequest, registro.Result{Status: "error", Message: "Registro inválido."})
		return
	}
	q := r.URL.Query()
	wf := editflow.New(s.client, &pagePresenter{}, nil, s.logger)
	wf.Resume(id, "", registro.EditForm{})
	form, err := wf.Change(registro.EditForm{DataSaida: q.Get("data_saida"), HoraSaida: q.Get("hora_saida")})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, registro.Result{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, exitRuleResponse{DataSaida: form.DataSaida, HoraSaida: form.HoraSaida})
}

func (s *server) renderEdit(w http.ResponseWriter, r *http.Request, status int, form *editflow.Form, validation string) {
	token, err := s.csrfToken(r.Context())
	if err != nil {
		s.logger.Warn("fetch csrf token", "err", err)
	}
	data := pageData{
		Title:      pageTitle(s.scope),
		Scope:      s.scope,
		CSRF:       token,
		Form:       form,
		Validation: validation,
	}
	w.WriteHeader(status)
	if err := renderHTMLTemplate(w, s.editTmpl, data); err != nil {
		s.logger.Error("edit template render failed", "err", err)
	}
}

func (s *server) createRegistro(w http.ResponseWriter, r *http.Request) {
	form := registro.EntryForm{
		ServidorID: parseID(r.PostFormValue("servidor_id")),
		TipoAcesso: registro.AccessType(strings.ToUpper(strings.TrimSpace(r.PostFormValue("tipo_acesso")))),
		ISV:        formBool(r.PostFormValue("isv")),
		Veiculo:    r.PostFormValue("veiculo"),
		Observacao: r.PostFormValue("observacao"),
	}
	res, err := s.signedClient(r).Create(r.Context(), form)
	s.finishMutation(w, r, res, err)
}

func (s *server) createManual(w http.ResponseWriter, r *http.Request) {
	form := registro.ManualEntryForm{
		ServidorID:     parseID(r.PostFormValue("servidor_id")),
		TipoAcesso:     registro.AccessType(strings.ToUpper(strings.TrimSpace(r.PostFormValue("tipo_acesso")))),
		DataHoraManual: r.PostFormValue("data_hora_manual"),
		Justificativa:  r.PostFormValue("justificativa"),
		Observacao:     r.PostFormValue("observacao"),
		ISV:            formBool(r.PostFormValue("isv")),
	}
	res, err := s.signedClient(r).CreateManual(r.Context(), form)
	s.finishMutation(w, r, res, err)
}

func (s *server) finalExit(w http.ResponseWriter, r *http.Request) {
	form := registro.FinalExitForm{
		Nome:            r.PostFormValue("nome"),
		NumeroDocumento: r.PostFormValue("numero_documento"),
		Justificativa:   r.PostFormValue("justificativa"),
	}
	res, err := s.signedClient(r).FinalExit(r.Context(), form)
	s.finishMutation(w, r, res, err)
}

func (s *server) clearDashboard(w http.ResponseWriter, r *http.Request) {
	res, err := s.loop.ClearAllVia(r.Context(), s.signedClient(r), r.PostFormValue("senha"))
	if err != nil {
		s.forgetToken(err)
		http.Redirect(w, r, redirectWith("erro", registro.UserMessage(err)), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, redirectWith("sucesso", res.Message), http.StatusSeeOther)
}

// finishMutation refreshes after a successful write so the redirected page
// shows it, then redirects with the outcome.
func (s *server) finishMutation(w http.ResponseWriter, r *http.Request, res *registro.Result, err error) {
	if err != nil {
		s.forgetToken(err)
		http.Redirect(w, r, redirectWith("erro", registro.UserMessage(err)), http.StatusSeeOther)
		return
	}
	if err := s.loop.Refresh(r.Context()); err != nil {
		s.logger.Warn("refresh after mutation", "err", err)
	}
	http.Redirect(w, r, redirectWith("sucesso", res.Message), http.StatusSeeOther)
}

func (s *server) searchServidores(w http.ResponseWriter, r *http.Request) {
	servidores, err := s.client.SearchServidores(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, registro.Result{Status: "error", Message: registro.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servidores": servidores})
}

func (s *server) exportExcel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.client.OpenExport(r.Context())
	if err != nil {
		http.Redirect(w, r, redirectWith("erro", registro.UserMessage(err)), http.StatusSeeOther)
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Disposition", "Content-Length"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("proxy export", "err", err)
	}
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func atoi(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
