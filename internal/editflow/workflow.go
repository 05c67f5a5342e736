package editflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phillip-england/registro/internal/registro"
)

type State int

const (
	Idle State = iota
	Loading
	FormPresented
	Submitting
	Success
	ValidationFailed
	SubmitFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case FormPresented:
		return "form_presented"
	case Submitting:
		return "submitting"
	case Success:
		return "success"
	case ValidationFailed:
		return "validation_error"
	case SubmitFailed:
		return "submit_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	loadingTitle      = "Carregando..."
	msgLoadFailed     = "Erro ao carregar dados do registro"
	msgUpdated        = "Registro atualizado com sucesso!"
	msgDeleted        = "Registro excluído com sucesso!"
	msgExitRegistered = "Saída registrada com sucesso!"
)

// Form is what the presenter renders: the editable values plus the live
// state of the exit inputs.
type Form struct {
	ID           int64
	ServidorNome string
	Values       registro.EditForm
	DataSaida    registro.FieldState
	HoraSaida    registro.FieldState
}

func newForm(id int64, nome string, values registro.EditForm) Form {
	data, hora := values.ExitFieldStates()
	return Form{ID: id, ServidorNome: nome, Values: values, DataSaida: data, HoraSaida: hora}
}

// Workflow edits one record at a time:
// Idle -> Loading -> FormPresented -> Submitting -> Success, with validation
// and submit failures returning to FormPresented.
type Workflow struct {
	client    Client
	presenter Presenter
	refresher Refresher
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	outcome State
	form    Form
}

func New(client Client, presenter Presenter, refresher Refresher, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Workflow{client: client, presenter: presenter, refresher: refresher, logger: logger}
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Outcome is the result of the last submit attempt, or Idle before any.
func (w *Workflow) Outcome() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

func (w *Workflow) Form() Form {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.form
}

// Begin loads record id and presents its edit form.
func (w *Workflow) Begin(ctx context.Context, id int64) error {
	if err := w.transition(Loading, Idle, FormPresented, Success); err != nil {
		return err
	}
	w.presenter.ShowLoading(loadingTitle)
	detail, err := w.client.Detail(ctx, id)
	w.presenter.HideLoading()
	if err != nil {
		w.setState(Idle)
		w.logger.Warn("load registro detail", "id", id, "err", err)
		w.presenter.Error(msgLoadFailed + ": " + registro.UserMessage(err))
		return err
	}

	form := newForm(id, detail.Nome(), registro.EditFormFromDetail(*detail))
	w.mu.Lock()
	w.form = form
	w.state = FormPresented
	w.mu.Unlock()
	w.presenter.ShowForm(form)
	return nil
}

// Resume presents a form whose values came back from the operator, as when a
// posted form is re-rendered.
func (w *Workflow) Resume(id int64, nome string, values registro.EditForm) Form {
	form := newForm(id, nome, values)
	w.mu.Lock()
	w.form = form
	w.state = FormPresented
	w.mu.Unlock()
	return form
}

// Change applies live edits and re-evaluates the exit-pair rule.
func (w *Workflow) Change(values registro.EditForm) (Form, error) {
	w.mu.Lock()
	if w.state != FormPresented {
		w.mu.Unlock()
		return Form{}, ErrInvalidState
	}
	w.form = newForm(w.form.ID, w.form.ServidorNome, values)
	form := w.form
	w.mu.Unlock()
	w.presenter.ShowForm(form)
	return form, nil
}

// Submit validates values locally and, if they pass, sends the update. Local
// validation failures never reach the network.
func (w *Workflow) Submit(ctx context.Context, values registro.EditForm) error {
	w.mu.Lock()
	if w.state != FormPresented {
		w.mu.Unlock()
		return ErrInvalidState
	}
	w.form = newForm(w.form.ID, w.form.ServidorNome, values)
	id := w.form.ID
	w.mu.Unlock()

	if err := values.Validate(); err != nil {
		w.fail(ValidationFailed, err)
		return err
	}

	w.setState(Submitting)
	_, err := w.client.Update(ctx, id, values)
	if err != nil {
		var validationErr *registro.ValidationError
		var appErr *registro.ApplicationError
		if errors.As(err, &validationErr) || errors.As(err, &appErr) {
			w.fail(ValidationFailed, err)
		} else {
			w.fail(SubmitFailed, err)
		}
		w.logger.Warn("update registro", "id", id, "err", err)
		return err
	}

	w.mu.Lock()
	w.state = Success
	w.outcome = Success
	w.mu.Unlock()
	w.presenter.Success(msgUpdated)
	w.refresh(ctx)
	return nil
}

// Cancel abandons the form without side effects.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == FormPresented {
		w.state = Idle
		w.form = Form{}
	}
}

// Delete removes a record after the operator confirmed and justified it.
func (w *Workflow) Delete(ctx context.Context, id int64, justificativa string) error {
	if _, err := w.client.Delete(ctx, id, justificativa); err != nil {
		var validationErr *registro.ValidationError
		if errors.As(err, &validationErr) {
			w.presenter.ShowValidation(validationErr.Message)
		} else {
			w.presenter.Error("Erro ao excluir registro: " + registro.UserMessage(err))
		}
		return err
	}
	w.presenter.Success(msgDeleted)
	w.refresh(ctx)
	return nil
}

// RegisterExit closes a pending record at the current time after the
// operator confirmed it.
func (w *Workflow) RegisterExit(ctx context.Context, id int64) error {
	if _, err := w.client.RegisterExit(ctx, id); err != nil {
		w.presenter.Error("Erro ao registrar saída: " + registro.UserMessage(err))
		return err
	}
	w.presenter.Success(msgExitRegistered)
	w.refresh(ctx)
	return nil
}

func (w *Workflow) fail(outcome State, err error) {
	w.mu.Lock()
	w.outcome = outcome
	w.state = FormPresented
	w.mu.Unlock()
	w.presenter.ShowValidation(registro.UserMessage(err))
}

func (w *Workflow) refresh(ctx context.Context) {
	if w.refresher == nil {
		return
	}
	if err := w.refresher.Refresh(ctx); err != nil {
		w.logger.Warn("refresh after mutation", "err", err)
	}
}

func (w *Workflow) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Workflow) transition(to State, from ...State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range from {
		if w.state == f {
			w.state = to
			return nil
		}
	}
	return ErrInvalidState
}
