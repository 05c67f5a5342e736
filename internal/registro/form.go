package registro

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	msgEntryRequired     = "Data e hora de entrada são obrigatórios"
	msgExitPairPrefix    = "Para registrar uma saída, preencha tanto a data quanto a hora. Campo faltando: "
	msgExitDateNeedsTime = "Se você informar a data de saída, também precisa informar a hora"
	msgExitTimeNeedsDate = "Se você informar a hora de saída, também precisa informar a data"
	msgMissingServidor   = "Por favor, selecione um servidor primeiro."
	msgFinalExitFields   = "Por favor, preencha todos os campos obrigatórios."
	msgJustification     = "A justificativa é obrigatória"
	msgManualInstant     = "Informe a data e a hora do registro manual"
	defaultJustification = "Edição pelo dashboard"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(exitPairValidation, EditForm{})
	return v
}

// EditForm holds the edit modal values. Dates are yyyy-mm-dd and times hh:mm,
// the shapes an HTML date/time input produces.
type EditForm struct {
	DataEntrada   string `form:"data_entrada" validate:"required,datetime=2006-01-02"`
	HoraEntrada   string `form:"hora_entrada" validate:"required,datetime=15:04"`
	DataSaida     string `form:"data_saida" validate:"omitempty,datetime=2006-01-02"`
	HoraSaida     string `form:"hora_saida" validate:"omitempty,datetime=15:04"`
	ISV           bool   `form:"isv"`
	Justificativa string `form:"justificativa"`
}

// ExitRequirement describes the exit-pair rule for the current values.
type ExitRequirement int

const (
	// ExitOptional means neither exit field is filled.
	ExitOptional ExitRequirement = iota
	// ExitComplete means both exit fields are filled.
	ExitComplete
	ExitNeedsHora
	ExitNeedsData
)

func (f EditForm) ExitRequirement() ExitRequirement {
	hasData := strings.TrimSpace(f.DataSaida) != ""
	hasHora := strings.TrimSpace(f.HoraSaida) != ""
	switch {
	case hasData && hasHora:
		return ExitComplete
	case hasData:
		return ExitNeedsHora
	case hasHora:
		return ExitNeedsData
	default:
		return ExitOptional
	}
}

// FieldState is the live state of one exit input: whether it is required and
// the message shown next to it while invalid.
type FieldState struct {
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
}

func (f EditForm) ExitFieldStates() (data FieldState, hora FieldState) {
	switch f.ExitRequirement() {
	case ExitComplete:
		return FieldState{Required: true}, FieldState{Required: true}
	case ExitNeedsHora:
		return FieldState{Required: true}, FieldState{Required: true, Message: msgExitDateNeedsTime}
	case ExitNeedsData:
		return FieldState{Required: true, Message: msgExitTimeNeedsDate}, FieldState{Required: true}
	default:
		return FieldState{}, FieldState{}
	}
}

func (f EditForm) trimmed() EditForm {
	f.DataEntrada = strings.TrimSpace(f.DataEntrada)
	f.HoraEntrada = strings.TrimSpace(f.HoraEntrada)
	f.DataSaida = strings.TrimSpace(f.DataSaida)
	f.HoraSaida = strings.TrimSpace(f.HoraSaida)
	f.Justificativa = strings.TrimSpace(f.Justificativa)
	return f
}

// Validate returns a *ValidationError naming the first offending field.
func (f EditForm) Validate() error {
	err := validate.Struct(f.trimmed())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	return editValidationError(fieldErrs)
}

func editValidationError(fieldErrs validator.ValidationErrors) *ValidationError {
	priority := []string{"DataEntrada", "HoraEntrada", "DataSaida", "HoraSaida"}
	for _, name := range priority {
		for _, fe := range fieldErrs {
			if fe.StructField() != name {
				continue
			}
			switch {
			case fe.Tag() == "required":
				return &ValidationError{Field: fe.Field(), Message: msgEntryRequired}
			case fe.Tag() == "exitpair" && name == "HoraSaida":
				return &ValidationError{Field: fe.Field(), Message: msgExitPairPrefix + "hora"}
			case fe.Tag() == "exitpair" && name == "DataSaida":
				return &ValidationError{Field: fe.Field(), Message: msgExitPairPrefix + "data"}
			default:
				return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("Valor inválido para %s", fe.Field())}
			}
		}
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("Valor inválido para %s", fe.Field())}
}

func exitPairValidation(sl validator.StructLevel) {
	form := sl.Current().Interface().(EditForm)
	switch form.ExitRequirement() {
	case ExitNeedsHora:
		sl.ReportError(form.HoraSaida, "hora_saida", "HoraSaida", "exitpair", "")
	case ExitNeedsData:
		sl.ReportError(form.DataSaida, "data_saida", "DataSaida", "exitpair", "")
	}
}

func (f EditForm) Values() url.Values {
	f = f.trimmed()
	values := url.Values{}
	values.Set("data_entrada", f.DataEntrada)
	values.Set("hora_entrada", f.HoraEntrada)
	values.Set("data_saida", f.DataSaida)
	values.Set("hora_saida", f.HoraSaida)
	if f.ISV {
		values.Set("isv", "on")
	}
	justificativa := f.Justificativa
	if justificativa == "" {
		justificativa = defaultJustification
	}
	values.Set("justificativa", justificativa)
	return values
}

// EditFormFromDetail seeds the edit form from a detail response, converting
// server dates to the yyyy-mm-dd input shape.
func EditFormFromDetail(d Detail) EditForm {
	entryDate := d.DataEntrada
	if !Present(entryDate) {
		entryDate = d.Data
	}
	form := EditForm{
		DataEntrada: ToInputDate(entryDate),
		DataSaida:   ToInputDate(d.DataSaida),
		ISV:         d.ISV,
	}
	if Present(d.HoraEntrada) {
		form.HoraEntrada = strings.TrimSpace(d.HoraEntrada)
	}
	if Present(d.HoraSaida) {
		form.HoraSaida = strings.TrimSpace(d.HoraSaida)
	}
	return form
}

// ToInputDate converts dd/mm/yyyy to yyyy-mm-dd. Values already in ISO form
// pass through; anything else becomes "".
func ToInputDate(value string) string {
	v := strings.TrimSpace(value)
	if !Present(v) {
		return ""
	}
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return v
	}
	parts := strings.Split(v, "/")
	if len(parts) != 3 {
		return ""
	}
	day, errDay := strconv.Atoi(parts[0])
	month, errMonth := strconv.Atoi(parts[1])
	year, errYear := strconv.Atoi(parts[2])
	if errDay != nil || errMonth != nil || errYear != nil {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// FromInputDate converts yyyy-mm-dd to dd/mm/yyyy.
func FromInputDate(value string) string {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return parsed.Format("02/01/2006")
}

type EntryForm struct {
	ServidorID int64      `form:"servidor_id" validate:"required,gt=0"`
	TipoAcesso AccessType `form:"tipo_acesso" validate:"required,oneof=ENTRADA SAIDA"`
	ISV        bool       `form:"isv"`
	Veiculo    string     `form:"veiculo"`
	Observacao string     `form:"observacao"`
}

func (f EntryForm) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fe := fieldErrs[0]
	if fe.StructField() == "ServidorID" {
		return &ValidationError{Field: fe.Field(), Message: msgMissingServidor}
	}
	return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("Valor inválido para %s", fe.Field())}
}

func (f EntryForm) Values() url.Values {
	values := url.Values{}
	values.Set("servidor_id", strconv.FormatInt(f.ServidorID, 10))
	values.Set("tipo_acesso", string(f.TipoAcesso))
	if f.ISV {
		values.Set("isv", "on")
	}
	values.Set("veiculo", strings.TrimSpace(f.Veiculo))
	values.Set("observacao", strings.TrimSpace(f.Observacao))
	return values
}

// FinalExitForm registers an egresso: someone leaving who has no open entry.
type FinalExitForm struct {
	Nome            string `form:"nome" validate:"required"`
	NumeroDocumento string `form:"numero_documento" validate:"required"`
	Justificativa   string `form:"justificativa" validate:"required"`
}

func (f FinalExitForm) trimmed() FinalExitForm {
	f.Nome = strings.TrimSpace(f.Nome)
	f.NumeroDocumento = strings.TrimSpace(f.NumeroDocumento)
	f.Justificativa = strings.TrimSpace(f.Justificativa)
	return f
}

func (f FinalExitForm) Validate() error {
	err := validate.Struct(f.trimmed())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	return &ValidationError{Field: fieldErrs[0].Field(), Message: msgFinalExitFields}
}

func (f FinalExitForm) Values() url.Values {
	f = f.trimmed()
	values := url.Values{}
	values.Set("nome", f.Nome)
	values.Set("numero_documento", f.NumeroDocumento)
	values.Set("justificativa", f.Justificativa)
	values.Set("setor", f.Justificativa)
	return values
}

// ManualLayout is the shape of an HTML datetime-local input.
const ManualLayout = "2006-01-02T15:04"

// ManualEntryForm registers an access at an operator-supplied instant, for
// entries or exits that were not recorded when they happened.
type ManualEntryForm struct {
	ServidorID     int64      `form:"servidor_id" validate:"required,gt=0"`
	TipoAcesso     AccessType `form:"tipo_acesso" validate:"required,oneof=ENTRADA SAIDA"`
	DataHoraManual string     `form:"data_hora_manual" validate:"required,datetime=2006-01-02T15:04"`
	Justificativa  string     `form:"justificativa" validate:"required"`
	Observacao     string     `form:"observacao"`
	ISV            bool       `form:"isv"`
}

func (f ManualEntryForm) trimmed() ManualEntryForm {
	f.DataHoraManual = strings.TrimSpace(f.DataHoraManual)
	f.Justificativa = strings.TrimSpace(f.Justificativa)
	f.Observacao = strings.TrimSpace(f.Observacao)
	return f
}

func (f ManualEntryForm) Validate() error {
	err := validate.Struct(f.trimmed())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fe := fieldErrs[0]
	switch fe.StructField() {
	case "ServidorID":
		return &ValidationError{Field: fe.Field(), Message: msgMissingServidor}
	case "DataHoraManual":
		return &ValidationError{Field: fe.Field(), Message: msgManualInstant}
	case "Justificativa":
		return &ValidationError{Field: fe.Field(), Message: msgJustification}
	default:
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("Valor inválido para %s", fe.Field())}
	}
}

// Instant parses DataHoraManual as wall-clock time in loc.
func (f ManualEntryForm) Instant(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(ManualLayout, strings.TrimSpace(f.DataHoraManual), loc)
}

func (f ManualEntryForm) Values() url.Values {
	f = f.trimmed()
	values := url.Values{}
	values.Set("servidor_id", strconv.FormatInt(f.ServidorID, 10))
	values.Set("tipo_acesso", string(f.TipoAcesso))
	values.Set("data_hora_manual", f.DataHoraManual)
	values.Set("justificativa", f.Justificativa)
	values.Set("observacao", f.Observacao)
	if f.ISV {
		values.Set("isv", "on")
	}
	return values
}

func validateJustification(justificativa string) (string, error) {
	trimmed := strings.TrimSpace(justificativa)
	if trimmed == "" {
		return "", &ValidationError{Field: "justificativa", Message: msgJustification}
	}
	return trimmed, nil
}
