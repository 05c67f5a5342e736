package registro

import (
	"encoding/json"
	"strings"
)

type AccessType string

const (
	AccessEntry AccessType = "ENTRADA"
	AccessExit  AccessType = "SAIDA"
)

// Record is one dashboard row as the server describes it. Date fields are
// dd/mm/yyyy and time fields hh:mm; an absent value is "" or "-".
type Record struct {
	ID                int64      `json:"id"`
	ServidorNome      string     `json:"servidor_nome,omitempty"`
	ServidorDocumento string     `json:"servidor_documento,omitempty"`
	Setor             string     `json:"setor,omitempty"`
	Veiculo           string     `json:"veiculo,omitempty"`
	ISV               bool       `json:"isv"`
	Data              string     `json:"data,omitempty"`
	DataEntrada       string     `json:"data_entrada,omitempty"`
	HoraEntrada       string     `json:"hora_entrada,omitempty"`
	DataSaida         string     `json:"data_saida,omitempty"`
	HoraSaida         string     `json:"hora_saida,omitempty"`
	SaidaPendente     bool       `json:"saida_pendente"`
	TipoAcesso        AccessType `json:"tipo_acesso,omitempty"`
}

// EntryDate returns data_entrada, falling back to the legacy data field.
func (r Record) EntryDate() string {
	if Present(r.DataEntrada) {
		return strings.TrimSpace(r.DataEntrada)
	}
	if Present(r.Data) {
		return strings.TrimSpace(r.Data)
	}
	return ""
}

func (r Record) HasEntry() bool {
	return r.EntryDate() != ""
}

func (r Record) HasExit() bool {
	return Present(r.DataSaida) && Present(r.HoraSaida)
}

// normalize splits the combined "dd/mm/yyyy hh:mm" values some servers put in
// the hora fields into their date and time halves.
func (r *Record) normalize() {
	if d, h, ok := splitCombined(r.HoraEntrada); ok {
		if !Present(r.DataEntrada) && !Present(r.Data) {
			r.DataEntrada = d
		}
		r.HoraEntrada = h
	}
	if d, h, ok := splitCombined(r.HoraSaida); ok {
		if !Present(r.DataSaida) {
			r.DataSaida = d
		}
		r.HoraSaida = h
	}
}

func splitCombined(value string) (string, string, bool) {
	fields := strings.Fields(value)
	if len(fields) != 2 || !strings.Contains(fields[0], "/") {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// Present reports whether a server value carries data. Servers use "" and "-"
// interchangeably for missing fields.
func Present(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && v != "-"
}

type Counters struct {
	Entradas  int `json:"total_entradas"`
	Saidas    int `json:"total_saidas"`
	Pendentes int `json:"total_pendentes"`
}

// ListResult is one list response. Counters is nil when the server did not
// send totals.
type ListResult struct {
	Records  []Record
	Counters *Counters
}

type ServidorRef struct {
	Nome            string `json:"nome"`
	NumeroDocumento string `json:"numero_documento,omitempty"`
}

type Detail struct {
	ID            int64       `json:"id"`
	Servidor      ServidorRef `json:"servidor"`
	ServidorNome  string      `json:"servidor_nome,omitempty"`
	DataHora      string      `json:"data_hora,omitempty"`
	Data          string      `json:"data,omitempty"`
	DataEntrada   string      `json:"data_entrada,omitempty"`
	HoraEntrada   string      `json:"hora_entrada,omitempty"`
	DataSaida     string      `json:"data_saida,omitempty"`
	HoraSaida     string      `json:"hora_saida,omitempty"`
	ISV           bool        `json:"isv"`
	TipoAcesso    AccessType  `json:"tipo_acesso,omitempty"`
	SaidaPendente bool        `json:"saida_pendente"`
}

func (d Detail) Nome() string {
	if strings.TrimSpace(d.Servidor.Nome) != "" {
		return strings.TrimSpace(d.Servidor.Nome)
	}
	return strings.TrimSpace(d.ServidorNome)
}

type Servidor struct {
	ID              int64  `json:"id"`
	Nome            string `json:"nome"`
	NumeroDocumento string `json:"numero_documento"`
	Setor           string `json:"setor,omitempty"`
	Veiculo         string `json:"veiculo,omitempty"`
	Plantao         string `json:"plantao,omitempty"`
}

// Result is the status/message envelope returned by mutating endpoints.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AuditEntry is one edit or deletion from the audit trail. Detalhes holds the
// record as it was before the change.
type AuditEntry struct {
	ID            string          `json:"id"`
	RegistroID    int64           `json:"registro_id"`
	Acao          string          `json:"acao"`
	Justificativa string          `json:"justificativa"`
	Detalhes      json.RawMessage `json:"detalhes"`
	CriadoEm      string          `json:"criado_em"`
}
