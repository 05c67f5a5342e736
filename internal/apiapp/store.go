package apiapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/shift"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	manualPrefix    = "Registro manual: "
)

const schema = `
CREATE TABLE IF NOT EXISTS servidores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL,
    numero_documento TEXT NOT NULL UNIQUE,
    setor TEXT NOT NULL DEFAULT '',
    veiculo TEXT NOT NULL DEFAULT '',
    plantao TEXT NOT NULL DEFAULT '',
    ativo INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_servidores_nome ON servidores(nome);

CREATE TABLE IF NOT EXISTS registros (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scope TEXT NOT NULL CHECK(scope IN ('producao', 'treinamento')),
    servidor_id INTEGER NOT NULL,
    tipo_acesso TEXT NOT NULL CHECK(tipo_acesso IN ('ENTRADA', 'SAIDA')),
    setor TEXT NOT NULL DEFAULT '',
    veiculo TEXT NOT NULL DEFAULT '',
    isv INTEGER NOT NULL DEFAULT 0,
    entrada TEXT,
    saida TEXT,
    saida_pendente INTEGER NOT NULL DEFAULT 0,
    observacao TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (servidor_id) REFERENCES servidores(id)
);
CREATE INDEX IF NOT EXISTS idx_registros_scope ON registros(scope, entrada);

CREATE TABLE IF NOT EXISTS auditoria (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    registro_id INTEGER NOT NULL,
    acao TEXT NOT NULL CHECK(acao IN ('EDITADO', 'EXCLUIDO')),
    justificativa TEXT NOT NULL,
    detalhes TEXT NOT NULL,
    criado_em TEXT NOT NULL
);
`

type registroRow struct {
	ID                int64               `json:"id"`
	Scope             registro.Scope      `json:"scope"`
	ServidorID        int64               `json:"servidor_id"`
	ServidorNome      string              `json:"servidor_nome"`
	ServidorDocumento string              `json:"servidor_documento"`
	TipoAcesso        registro.AccessType `json:"tipo_acesso"`
	Setor             string              `json:"setor"`
	Veiculo           string              `json:"veiculo"`
	ISV               bool                `json:"isv"`
	Entrada           *time.Time          `json:"entrada,omitempty"`
	Saida             *time.Time          `json:"saida,omitempty"`
	SaidaPendente     bool                `json:"saida_pendente"`
	Observacao        string              `json:"observacao"`
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func openStore(ctx context.Context, path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &sqliteStore{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) localNow() time.Time {
	return s.now().In(shift.Manaus).Truncate(time.Second)
}

const registroSelect = `
SELECT r.id, r.scope, r.servidor_id, s.nome, s.numero_documento, r.tipo_acesso,
       r.setor, r.veiculo, r.isv, r.entrada, r.saida, r.saida_pendente, r.observacao
FROM registros r
JOIN servidores s ON s.id = r.servidor_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistro(row rowScanner) (registroRow, error) {
	var rec registroRow
	var entrada, saida sql.NullString
	err := row.Scan(
		&rec.ID, &rec.Scope, &rec.ServidorID, &rec.ServidorNome, &rec.ServidorDocumento, &rec.TipoAcesso,
		&rec.Setor, &rec.Veiculo, &rec.ISV, &entrada, &saida, &rec.SaidaPendente, &rec.Observacao,
	)
	if err != nil {
		return registroRow{}, err
	}
	if rec.Entrada, err = parseTimestamp(entrada); err != nil {
		return registroRow{}, err
	}
	if rec.Saida, err = parseTimestamp(saida); err != nil {
		return registroRow{}, err
	}
	return rec, nil
}

func (s *sqliteStore) listRegistros(ctx context.Context, scope registro.Scope) ([]registroRow, error) {
	rows, err := s.db.QueryContext(ctx, registroSelect+`
WHERE r.scope = ?
ORDER BY COALESCE(r.entrada, r.saida), r.id`, scope)
	if err != nil {
		return nil, fmt.Errorf("list registros: %w", err)
	}
	defer rows.Close()

	var out []registroRow
	for rows.Next() {
		rec, err := scanRegistro(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registro: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) counters(ctx context.Context, scope registro.Scope) (registro.Counters, error) {
	var c registro.Counters
	err := s.db.QueryRowContext(ctx, `
SELECT
    COALESCE(SUM(CASE WHEN entrada IS NOT NULL THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN saida IS NOT NULL THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(saida_pendente), 0)
FROM registros WHERE scope = ?`, scope).Scan(&c.Entradas, &c.Saidas, &c.Pendentes)
	if err != nil {
		return registro.Counters{}, fmt.Errorf("count registros: %w", err)
	}
	return c, nil
}

func (s *sqliteStore) getRegistro(ctx context.Context, scope registro.Scope, id int64) (registroRow, error) {
	rec, err := scanRegistro(s.db.QueryRowContext(ctx, registroSelect+`
WHERE r.scope = ? AND r.id = ?`, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return registroRow{}, ErrNotFound
	}
	if err != nil {
		return registroRow{}, fmt.Errorf("get registro %d: %w", id, err)
	}
	return rec, nil
}

// createAccess records an ENTRADA as a new pending row, or closes the
// servidor's open entry for a SAIDA.
func (s *sqliteStore) createAccess(ctx context.Context, scope registro.Scope, form registro.EntryForm) (int64, error) {
	return s.createAccessAt(ctx, scope, form, s.localNow())
}

// createManual is createAccess at an operator-supplied instant. The
// justification is kept ahead of the observation.
func (s *sqliteStore) createManual(ctx context.Context, scope registro.Scope, form registro.ManualEntryForm, at time.Time) (int64, error) {
	observacao := manualPrefix + strings.TrimSpace(form.Justificativa)
	if obs := strings.TrimSpace(form.Observacao); obs != "" {
		observacao += " | " + obs
	}
	return s.createAccessAt(ctx, scope, registro.EntryForm{
		ServidorID: form.ServidorID,
		TipoAcesso: form.TipoAcesso,
		ISV:        form.ISV,
		Observacao: observacao,
	}, at.In(shift.Manaus).Truncate(time.Second))
}

func (s *sqliteStore) createAccessAt(ctx context.Context, scope registro.Scope, form registro.EntryForm, now time.Time) (int64, error) {
	servidor, err := s.getServidor(ctx, form.ServidorID)
	if err != nil {
		return 0, err
	}

	if form.TipoAcesso == registro.AccessExit {
		res, err := s.db.ExecContext(ctx, `
UPDATE registros SET saida = ?, saida_pendente = 0
WHERE id = (
    SELECT id FROM registros
    WHERE scope = ? AND servidor_id = ? AND saida_pendente = 1
    ORDER BY entrada DESC, id DESC LIMIT 1
)`, formatTimestamp(now), scope, servidor.ID)
		if err != nil {
			return 0, fmt.Errorf("close pending entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, ErrNoPendingEntry
		}
		return 0, nil
	}

	var pending int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM registros WHERE scope = ? AND servidor_id = ? AND saida_pendente = 1`,
		scope, servidor.ID).Scan(&pending); err != nil {
		return 0, fmt.Errorf("check pending entry: %w", err)
	}
	if pending > 0 {
		return 0, ErrAlreadyInside
	}

	veiculo := strings.TrimSpace(form.Veiculo)
	if veiculo == "" {
		veiculo = servidor.Veiculo
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO registros (scope, servidor_id, tipo_acesso, setor, veiculo, isv, entrada, saida_pendente, observacao)
VALUES (?, ?, 'ENTRADA', ?, ?, ?, ?, 1, ?)`,
		scope, servidor.ID, servidor.Setor, veiculo, form.ISV, formatTimestamp(now), strings.TrimSpace(form.Observacao))
	if err != nil {
		return 0, fmt.Errorf("insert registro: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) updateRegistro(ctx context.Context, scope registro.Scope, id int64, entrada time.Time, saida *time.Time, isv bool, justificativa string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanRegistro(tx.QueryRowContext(ctx, registroSelect+` WHERE r.scope = ? AND r.id = ?`, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load registro %d: %w", id, err)
	}

	pending := saida == nil && before.TipoAcesso == registro.AccessEntry
	var saidaValue any
	if saida != nil {
		saidaValue = formatTimestamp(*saida)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE registros SET entrada = ?, saida = ?, isv = ?, saida_pendente = ? WHERE id = ?`,
		formatTimestamp(entrada), saidaValue, isv, pending, id); err != nil {
		return fmt.Errorf("update registro %d: %w", id, err)
	}
	if err := s.audit(ctx, tx, scope, before, "EDITADO", justificativa); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) deleteRegistro(ctx context.Context, scope registro.Scope, id int64, justificativa string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := scanRegistro(tx.QueryRowContext(ctx, registroSelect+` WHERE r.scope = ? AND r.id = ?`, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load registro %d: %w", id, err)
	}
	if err := s.audit(ctx, tx, scope, before, "EXCLUIDO", justificativa); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM registros WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete registro %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *sqliteStore) audit(ctx context.Context, tx *sql.Tx, scope registro.Scope, before registroRow, acao, justificativa string) error {
	details, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO auditoria (id, scope, registro_id, acao, justificativa, detalhes, criado_em)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), scope, before.ID, acao, justificativa, string(details), formatTimestamp(s.localNow()))
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) listAudit(ctx context.Context, scope registro.Scope) ([]registro.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, registro_id, acao, justificativa, detalhes, criado_em
FROM auditoria WHERE scope = ? ORDER BY criado_em, rowid`, scope)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []registro.AuditEntry{}
	for rows.Next() {
		var e registro.AuditEntry
		var details, created string
		if err := rows.Scan(&e.ID, &e.RegistroID, &e.Acao, &e.Justificativa, &details, &created); err != nil {
			return nil, err
		}
		e.Detalhes = json.RawMessage(details)
		if ts, err := time.ParseInLocation(timestampLayout, created, shift.Manaus); err == nil {
			e.CriadoEm = ts.Format(displayDateLayout + " " + displayClockLayout)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) registerExit(ctx context.Context, scope registro.Scope, id int64) error {
	rec, err := s.getRegistro(ctx, scope, id)
	if err != nil {
		return err
	}
	if !rec.SaidaPendente {
		return ErrNotPending
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE registros SET saida = ?, saida_pendente = 0 WHERE id = ? AND scope = ?`,
		formatTimestamp(s.localNow()), id, scope)
	if err != nil {
		return fmt.Errorf("register exit %d: %w", id, err)
	}
	return nil
}

// finalExit stores an egresso: a SAIDA with no entry, the justification kept
// in setor.
func (s *sqliteStore) finalExit(ctx context.Context, scope registro.Scope, form registro.FinalExitForm) (int64, error) {
	servidorID, err := s.ensureServidor(ctx, strings.TrimSpace(form.Nome), strings.TrimSpace(form.NumeroDocumento))
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO registros (scope, servidor_id, tipo_acesso, setor, saida, saida_pendente)
VALUES (?, ?, 'SAIDA', ?, ?, 0)`,
		scope, servidorID, strings.TrimSpace(form.Justificativa), formatTimestamp(s.localNow()))
	if err != nil {
		return 0, fmt.Errorf("insert egresso: %w", err)
	}
	return res.LastInsertId()
}

// clearDashboard removes every record except those still waiting for an exit.
func (s *sqliteStore) clearDashboard(ctx context.Context, scope registro.Scope) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registros WHERE scope = ? AND saida_pendente = 0`, scope)
	if err != nil {
		return 0, fmt.Errorf("clear dashboard: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) getServidor(ctx context.Context, id int64) (registro.Servidor, error) {
	var sv registro.Servidor
	err := s.db.QueryRowContext(ctx, `
SELECT id, nome, numero_documento, setor, veiculo, plantao FROM servidores WHERE id = ? AND ativo = 1`, id).
		Scan(&sv.ID, &sv.Nome, &sv.NumeroDocumento, &sv.Setor, &sv.Veiculo, &sv.Plantao)
	if errors.Is(err, sql.ErrNoRows) {
		return registro.Servidor{}, ErrServidorNotFound
	}
	if err != nil {
		return registro.Servidor{}, fmt.Errorf("get servidor %d: %w", id, err)
	}
	return sv, nil
}

func (s *sqliteStore) ensureServidor(ctx context.Context, nome, documento string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM servidores WHERE numero_documento = ?`, documento).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find servidor: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO servidores (nome, numero_documento) VALUES (?, ?)`, nome, documento)
	if err != nil {
		return 0, fmt.Errorf("create servidor: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) searchServidores(ctx context.Context, query string, limit int) ([]registro.Servidor, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
SELECT id, nome, numero_documento, setor, veiculo, plantao
FROM servidores
WHERE ativo = 1 AND (LOWER(nome) LIKE ? OR LOWER(numero_documento) LIKE ?)
ORDER BY nome
LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search servidores: %w", err)
	}
	defer rows.Close()

	out := []registro.Servidor{}
	for rows.Next() {
		var sv registro.Servidor
		if err := rows.Scan(&sv.ID, &sv.Nome, &sv.NumeroDocumento, &sv.Setor, &sv.Veiculo, &sv.Plantao); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

// upsertServidores inserts new servidores and updates existing ones, matched
// by numero_documento.
func (s *sqliteStore) upsertServidores(ctx context.Context, servidores []registro.Servidor) (created, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sv := range servidores {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM servidores WHERE numero_documento = ?`, sv.NumeroDocumento).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
INSERT INTO servidores (nome, numero_documento, setor, veiculo, plantao, ativo) VALUES (?, ?, ?, ?, ?, 1)`,
				sv.Nome, sv.NumeroDocumento, sv.Setor, sv.Veiculo, sv.Plantao); err != nil {
				return 0, 0, fmt.Errorf("insert servidor %s: %w", sv.NumeroDocumento, err)
			}
			created++
		case err != nil:
			return 0, 0, fmt.Errorf("find servidor %s: %w", sv.NumeroDocumento, err)
		default:
			if _, err := tx.ExecContext(ctx, `
UPDATE servidores SET nome = ?, setor = ?, veiculo = ?, plantao = ?, ativo = 1 WHERE id = ?`,
				sv.Nome, sv.Setor, sv.Veiculo, sv.Plantao, id); err != nil {
				return 0, 0, fmt.Errorf("update servidor %s: %w", sv.NumeroDocumento, err)
			}
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func formatTimestamp(t time.Time) string {
	return t.In(shift.Manaus).Format(timestampLayout)
}

func parseTimestamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(timestampLayout, v.String, shift.Manaus)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}
