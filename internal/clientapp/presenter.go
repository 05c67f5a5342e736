package clientapp

import "github.com/phillip-england/registro/internal/editflow"

// pagePresenter collects what a workflow wants shown during one request so
// the handler can render it or carry it across a redirect.
type pagePresenter struct {
	loading    string
	form       *editflow.Form
	validation string
	success    string
	err        string
}

func (p *pagePresenter) ShowLoading(title string) { p.loading = title }

func (p *pagePresenter) HideLoading() { p.loading = "" }

func (p *pagePresenter) ShowForm(form editflow.Form) {
	p.form = &form
}

func (p *pagePresenter) ShowValidation(message string) { p.validation = message }

func (p *pagePresenter) Success(message string) { p.success = message }

func (p *pagePresenter) Error(message string) { p.err = message }

// failure is the message to report after a failed action.
func (p *pagePresenter) failure() string {
	if p.validation != "" {
		return p.validation
	}
	return p.err
}
