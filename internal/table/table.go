package table

import (
	"strings"

	"github.com/phillip-england/registro/internal/registro"
)

const (
	Placeholder  = "-"
	EmptyMessage = "Nenhum registro encontrado"
	ErrorPrefix  = "Erro ao carregar registros: "

	KindInfo  = "info"
	KindError = "error"
)

var Columns = []string{"#", "Servidor", "Documento", "Setor", "Veículo", "ISV", "Entrada", "Saída"}

type Row struct {
	Index      int
	ID         int64
	Pending    bool
	TipoAcesso registro.AccessType
	Nome       string
	Documento  string
	Setor      string
	Veiculo    string
	ISV        string
	Entrada    string
	Saida      string
}

func (r Row) Cells() []string {
	return []string{
		itoa(r.Index),
		r.Nome,
		r.Documento,
		r.Setor,
		r.Veiculo,
		r.ISV,
		r.Entrada,
		r.Saida,
	}
}

// Notice is a single full-width placeholder row.
type Notice struct {
	Kind    string
	Text    string
	Colspan int
}

// Body is the table body for one render pass: either data rows or a notice.
type Body struct {
	Columns  []string
	Rows     []Row
	Notice   *Notice
	ShowHint bool
}

func (b Body) Empty() bool {
	return len(b.Rows) == 0
}

// Render builds one row per record, in order. An empty batch yields the
// "no records" notice.
func Render(records []registro.Record) Body {
	if len(records) == 0 {
		return Body{
			Columns:  Columns,
			Notice:   &Notice{Kind: KindInfo, Text: EmptyMessage, Colspan: len(Columns)},
			ShowHint: true,
		}
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		rows = append(rows, Row{
			Index:      i + 1,
			ID:         rec.ID,
			Pending:    rec.SaidaPendente,
			TipoAcesso: rec.TipoAcesso,
			Nome:       orPlaceholder(rec.ServidorNome),
			Documento:  orPlaceholder(rec.ServidorDocumento),
			Setor:      orPlaceholder(rec.Setor),
			Veiculo:    orPlaceholder(rec.Veiculo),
			ISV:        yesNo(rec.ISV),
			Entrada:    dateTime(rec.EntryDate(), rec.HoraEntrada),
			Saida:      dateTime(rec.DataSaida, rec.HoraSaida),
		})
	}
	return Body{Columns: Columns, Rows: rows, ShowHint: true}
}

// RenderError replaces the body with an error notice and hides the
// context-menu hint.
func RenderError(err error) Body {
	return Body{
		Columns: Columns,
		Notice: &Notice{
			Kind:    KindError,
			Text:    ErrorPrefix + registro.UserMessage(err),
			Colspan: len(Columns),
		},
	}
}

func orPlaceholder(value string) string {
	if !registro.Present(value) {
		return Placeholder
	}
	return strings.TrimSpace(value)
}

func yesNo(v bool) string {
	if v {
		return "Sim"
	}
	return "Não"
}

func dateTime(date, clock string) string {
	if !registro.Present(date) || !registro.Present(clock) {
		return Placeholder
	}
	return strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
}
