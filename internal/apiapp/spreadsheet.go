package apiapp

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/registro/internal/registro"
)

const maxSpreadsheetRows = 100000

func isSpreadsheetName(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls", ".xlsx":
		return true
	default:
		return false
	}
}

func readRowsFromSpreadsheet(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, fmt.Errorf("nenhuma planilha encontrada")
		}
		rows := workbook.ReadAllCells(maxSpreadsheetRows)
		if len(rows) == 0 {
			return nil, fmt.Errorf("planilha vazia")
		}
		return rows, nil
	default:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("nenhuma planilha encontrada")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("planilha vazia")
		}
		return rows, nil
	}
}

var servidorHeaders = map[string]string{
	"nome":                "nome",
	"número do documento": "documento",
	"numero do documento": "documento",
	"numero_documento":    "documento",
	"documento":           "documento",
	"setor":               "setor",
	"veículo":             "veiculo",
	"veiculo":             "veiculo",
	"plantão":             "plantao",
	"plantao":             "plantao",
}

// parseServidorRows reads servidores from a sheet whose first row names the
// columns. Rows missing a name or document are skipped.
func parseServidorRows(rows [][]string) ([]registro.Servidor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("planilha vazia")
	}
	index := map[string]int{}
	for i, header := range rows[0] {
		if key, ok := servidorHeaders[normalizeHeader(header)]; ok {
			if _, seen := index[key]; !seen {
				index[key] = i
			}
		}
	}
	for _, required := range []string{"nome", "documento"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("coluna obrigatória ausente: %s", required)
		}
	}
	column := func(key string) int {
		if idx, ok := index[key]; ok {
			return idx
		}
		return -1
	}

	var servidores []registro.Servidor
	seen := map[string]int{}
	for _, row := range rows[1:] {
		sv := registro.Servidor{
			Nome:            cellValue(row, column("nome")),
			NumeroDocumento: cellValue(row, column("documento")),
			Setor:           cellValue(row, column("setor")),
			Veiculo:         cellValue(row, column("veiculo")),
			Plantao:         strings.ToUpper(cellValue(row, column("plantao"))),
		}
		if sv.Nome == "" || sv.NumeroDocumento == "" {
			continue
		}
		// Later rows win for a repeated document.
		if i, ok := seen[sv.NumeroDocumento]; ok {
			servidores[i] = sv
			continue
		}
		seen[sv.NumeroDocumento] = len(servidores)
		servidores = append(servidores, sv)
	}
	return servidores, nil
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
