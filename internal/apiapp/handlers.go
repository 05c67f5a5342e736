package apiapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gitea.com/go-chi/session"
	"github.com/go-chi/chi/v5"

	"github.com/phillip-england/registro/internal/chrono"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/security"
	"github.com/phillip-england/registro/internal/shift"
	"github.com/phillip-england/registro/internal/table"
)

const (
	csrfSessionKey     = "csrf_token"
	csrfFormField      = "csrfmiddlewaretoken"
	egressoPrefix      = "Egresso: "
	searchLimit        = 10
	maxImportSize      = 10 << 20
	displayDateLayout  = "02/01/2006"
	displayClockLayout = "15:04"
	inputDateLayout    = "2006-01-02"
)

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := session.GetSession(r)
	token, _ := sess.Get(csrfSessionKey).(string)
	if token == "" {
		var err error
		token, err = security.NewToken(32)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := sess.Set(csrfSessionKey, token); err != nil {
			s.fail(w, r, fmt.Errorf("store csrf token: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (s *server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected, _ := session.GetSession(r).Get(csrfSessionKey).(string)
		token := strings.TrimSpace(r.Header.Get(registro.CSRFHeaderName))
		if token == "" {
			token = strings.TrimSpace(r.PostFormValue(csrfFormField))
		}
		if !security.TokensEqual(token, expected) {
			writeError(w, http.StatusForbidden, "Token CSRF inválido ou ausente.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type listPayload struct {
	Status    string            `json:"status"`
	Registros []registro.Record `json:"registros"`
	registro.Counters
}

func (s *server) listRegistros(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.store.listRegistros(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		counters, err := s.store.counters(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		records := make([]registro.Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, toRecord(row))
		}
		writeJSON(w, http.StatusOK, listPayload{Status: "success", Registros: records, Counters: counters})
	}
}

func (s *server) detailRegistro(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := registroID(w, r)
		if !ok {
			return
		}
		row, err := s.store.getRegistro(r.Context(), scope, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDetail(row))
	}
}

func (s *server) createRegistro(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servidorField := r.PostFormValue("servidor_id")
		if strings.TrimSpace(servidorField) == "" {
			servidorField = r.PostFormValue("servidor")
		}
		servidorID, _ := strconv.ParseInt(strings.TrimSpace(servidorField), 10, 64)
		form := registro.EntryForm{
			ServidorID: servidorID,
			TipoAcesso: registro.AccessType(strings.ToUpper(strings.TrimSpace(r.PostFormValue("tipo_acesso")))),
			ISV:        formBool(r.PostFormValue("isv")),
			Veiculo:    r.PostFormValue("veiculo"),
			Observacao: r.PostFormValue("observacao"),
		}
		if err := form.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}
		id, err := s.store.createAccess(r.Context(), scope, form)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		message := "Entrada registrada com sucesso!"
		if form.TipoAcesso == registro.AccessExit {
			message = "Saída registrada com sucesso!"
		}
		s.logger.Info("registro created", "scope", scope, "servidor_id", servidorID, "tipo_acesso", form.TipoAcesso, "id", id)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": message, "id": id})
	}
}

func (s *server) finalExit(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := registro.FinalExitForm{
			Nome:            r.PostFormValue("nome"),
			NumeroDocumento: r.PostFormValue("numero_documento"),
			Justificativa:   r.PostFormValue("justificativa"),
		}
		if err := form.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}
		id, err := s.store.finalExit(r.Context(), scope, form)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info("egresso registered", "scope", scope, "id", id)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "Saída definitiva registrada com sucesso!", "id": id})
	}
}

func (s *server) createManual(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servidorField := r.PostFormValue("servidor_id")
		if strings.TrimSpace(servidorField) == "" {
			servidorField = r.PostFormValue("servidor")
		}
		servidorID, _ := strconv.ParseInt(strings.TrimSpace(servidorField), 10, 64)
		form := registro.ManualEntryForm{
			ServidorID:     servidorID,
			TipoAcesso:     registro.AccessType(strings.ToUpper(strings.TrimSpace(r.PostFormValue("tipo_acesso")))),
			DataHoraManual: r.PostFormValue("data_hora_manual"),
			Justificativa:  r.PostFormValue("justificativa"),
			Observacao:     r.PostFormValue("observacao"),
			ISV:            formBool(r.PostFormValue("isv")),
		}
		if err := form.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}
		at, err := form.Instant(shift.Manaus)
		if err != nil {
			s.fail(w, r, badInput("Data e hora do registro manual inválidas."))
			return
		}
		id, err := s.store.createManual(r.Context(), scope, form, at)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		message := "Entrada manual registrada com sucesso!"
		if form.TipoAcesso == registro.AccessExit {
			message = "Saída manual registrada com sucesso!"
		}
		s.logger.Info("manual registro created", "scope", scope, "servidor_id", servidorID, "tipo_acesso", form.TipoAcesso, "at", at, "id", id)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": message, "id": id})
	}
}

func (s *server) history(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.store.listAudit(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "auditoria": entries})
	}
}

func (s *server) editRegistro(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := registroID(w, r)
		if !ok {
			return
		}
		form := registro.EditForm{
			DataEntrada:   r.PostFormValue("data_entrada"),
			HoraEntrada:   r.PostFormValue("hora_entrada"),
			DataSaida:     r.PostFormValue("data_saida"),
			HoraSaida:     r.PostFormValue("hora_saida"),
			ISV:           formBool(r.PostFormValue("isv")),
			Justificativa: r.PostFormValue("justificativa"),
		}
		if err := form.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}
		justificativa := strings.TrimSpace(form.Justificativa)
		if justificativa == "" {
			s.fail(w, r, badInput("É necessário informar uma justificativa para editar o registro."))
			return
		}

		entrada, err := parseInputInstant(form.DataEntrada, form.HoraEntrada)
		if err != nil {
			s.fail(w, r, badInput("Data ou hora de entrada inválida."))
			return
		}
		var saida *time.Time
		if form.ExitRequirement() == registro.ExitComplete {
			t, err := parseInputInstant(form.DataSaida, form.HoraSaida)
			if err != nil {
				s.fail(w, r, badInput("Data ou hora de saída inválida."))
				return
			}
			if t.Before(entrada) {
				s.fail(w, r, badInput("A saída não pode ser anterior à entrada."))
				return
			}
			saida = &t
		}

		if err := s.store.updateRegistro(r.Context(), scope, id, entrada, saida, form.ISV, justificativa); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info("registro edited", "scope", scope, "id", id)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Registro atualizado com sucesso!"})
	}
}

func (s *server) deleteRegistro(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := registroID(w, r)
		if !ok {
			return
		}
		justificativa := strings.TrimSpace(r.PostFormValue("justificativa"))
		if justificativa == "" {
			s.fail(w, r, ErrMissingJustification)
			return
		}
		if err := s.store.deleteRegistro(r.Context(), scope, id, justificativa); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info("registro deleted", "scope", scope, "id", id)
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Registro excluído com sucesso!"})
	}
}

func (s *server) registerExit(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := registroID(w, r)
		if !ok {
			return
		}
		if err := s.store.registerExit(r.Context(), scope, id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, registro.Result{Status: "success", Message: "Saída registrada com sucesso!"})
	}
}

func (s *server) clearDashboard(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.clearHash != "" {
			senha := r.PostFormValue("senha")
			if strings.TrimSpace(senha) == "" {
				s.fail(w, r, ErrMissingPassword)
				return
			}
			if !security.VerifyPassword(senha, s.clearHash) {
				s.logger.Warn("dashboard clear rejected", "scope", scope, "remote", r.RemoteAddr)
				s.fail(w, r, ErrWrongPassword)
				return
			}
		}
		removed, err := s.store.clearDashboard(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info("dashboard cleared", "scope", scope, "removed", removed)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "success",
			"message":   fmt.Sprintf("Dashboard limpo com sucesso! %d registros removidos.", removed),
			"removidos": removed,
		})
	}
}

func (s *server) searchServidores(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		query = strings.TrimSpace(r.URL.Query().Get("q"))
	}
	if len([]rune(query)) < registro.MinSearchLength {
		writeJSON(w, http.StatusOK, map[string]any{"servidores": []registro.Servidor{}})
		return
	}
	servidores, err := s.store.searchServidores(r.Context(), query, searchLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servidores": servidores})
}

func (s *server) exportExcel(scope registro.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := s.store.listRegistros(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		records := make([]registro.Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, toRecord(row))
		}

		var buf bytes.Buffer
		if err := table.WriteXLSX(&buf, table.Render(chrono.Sort(records))); err != nil {
			s.fail(w, r, fmt.Errorf("write xlsx: %w", err))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, exportFilename(scope, s.now())))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func exportFilename(scope registro.Scope, now time.Time) string {
	prefix := "dashboard_controle_acesso"
	if scope == registro.ScopeTraining {
		prefix = "dashboard_treinamento"
	}
	return prefix + "_" + now.In(shift.Manaus).Format("20060102_1504") + ".xlsx"
}

// limitBody caps the request body before anything reads it, including the
// form fallback in csrfProtect.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *server) importServidores(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		s.fail(w, r, badInput("Arquivo inválido ou muito grande."))
		return
	}
	file, header, err := r.FormFile("arquivo")
	if err != nil {
		s.fail(w, r, badInput("Selecione um arquivo para importar."))
		return
	}
	defer file.Close()
	if !isSpreadsheetName(header.Filename) {
		s.fail(w, r, badInput("Formato de arquivo não suportado. Use .xls ou .xlsx."))
		return
	}

	rows, err := readRowsFromSpreadsheet(file, header.Filename)
	if err != nil {
		s.fail(w, r, badInput("Não foi possível ler a planilha: "+err.Error()))
		return
	}
	servidores, err := parseServidorRows(rows)
	if err != nil {
		s.fail(w, r, badInput("Planilha inválida: "+err.Error()))
		return
	}
	created, updated, err := s.store.upsertServidores(r.Context(), servidores)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("servidores imported", "file", header.Filename, "created", created, "updated", updated)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"message":     fmt.Sprintf("%d servidores criados e %d atualizados com sucesso!", created, updated),
		"criados":     created,
		"atualizados": updated,
	})
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, message)
}

func registroID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Identificador de registro inválido.")
		return 0, false
	}
	return id, true
}

func toRecord(row registroRow) registro.Record {
	rec := registro.Record{
		ID:                row.ID,
		ServidorNome:      row.ServidorNome,
		ServidorDocumento: row.ServidorDocumento,
		Setor:             orPlaceholder(row.Setor),
		Veiculo:           orPlaceholder(row.Veiculo),
		ISV:               row.ISV,
		SaidaPendente:     row.SaidaPendente,
		TipoAcesso:        row.TipoAcesso,
		HoraEntrada:       table.Placeholder,
		HoraSaida:         table.Placeholder,
	}
	if row.TipoAcesso == registro.AccessExit {
		rec.ServidorNome = egressoPrefix + row.ServidorNome
	}
	if row.Entrada != nil {
		rec.DataEntrada = row.Entrada.Format(displayDateLayout)
		rec.Data = rec.DataEntrada
		rec.HoraEntrada = row.Entrada.Format(displayClockLayout)
	}
	if row.Saida != nil {
		rec.DataSaida = row.Saida.Format(displayDateLayout)
		rec.HoraSaida = row.Saida.Format(displayClockLayout)
	}
	return rec
}

func toDetail(row registroRow) registro.Detail {
	nome := row.ServidorNome
	if row.TipoAcesso == registro.AccessExit {
		nome = egressoPrefix + nome
	}
	d := registro.Detail{
		ID:            row.ID,
		Servidor:      registro.ServidorRef{Nome: nome, NumeroDocumento: row.ServidorDocumento},
		ServidorNome:  nome,
		HoraEntrada:   table.Placeholder,
		HoraSaida:     table.Placeholder,
		ISV:           row.ISV,
		TipoAcesso:    row.TipoAcesso,
		SaidaPendente: row.SaidaPendente,
	}
	if row.Entrada != nil {
		d.Data = row.Entrada.Format(inputDateLayout)
		d.DataEntrada = d.Data
		d.HoraEntrada = row.Entrada.Format(displayClockLayout)
		d.DataHora = row.Entrada.Format(displayDateLayout + " " + displayClockLayout)
	}
	if row.Saida != nil {
		d.DataSaida = row.Saida.Format(inputDateLayout)
		d.HoraSaida = row.Saida.Format(displayClockLayout)
	}
	return d
}

func parseInputInstant(date, clock string) (time.Time, error) {
	return time.ParseInLocation(inputDateLayout+" "+displayClockLayout,
		strings.TrimSpace(date)+" "+strings.TrimSpace(clock), shift.Manaus)
}

func orPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return table.Placeholder
	}
	return v
}

func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, registro.Result{Status: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
