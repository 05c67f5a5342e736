package editflow

import (
	"context"

	"github.com/phillip-england/registro/internal/registro"
)

// Client is the subset of registro.Client the workflow needs.
type Client interface {
	Detail(ctx context.Context, id int64) (*registro.Detail, error)
	Update(ctx context.Context, id int64, form registro.EditForm) (*registro.Result, error)
	Delete(ctx context.Context, id int64, justificativa string) (*registro.Result, error)
	RegisterExit(ctx context.Context, id int64) (*registro.Result, error)
}

// Presenter shows the workflow to an operator: a loading indicator, the edit
// form, inline validation, and blocking notifications.
type Presenter interface {
	ShowLoading(title string)
	HideLoading()
	ShowForm(form Form)
	ShowValidation(message string)
	Success(message string)
	Error(message string)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}
