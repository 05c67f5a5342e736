package editflow

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/phillip-england/registro/internal/registro"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Detail(ctx context.Context, id int64) (*registro.Detail, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).(*registro.Detail); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Update(ctx context.Context, id int64, form registro.EditForm) (*registro.Result, error) {
	args := m.Called(ctx, id, form)
	if r, ok := args.Get(0).(*registro.Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Delete(ctx context.Context, id int64, justificativa string) (*registro.Result, error) {
	args := m.Called(ctx, id, justificativa)
	if r, ok := args.Get(0).(*registro.Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) RegisterExit(ctx context.Context, id int64) (*registro.Result, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*registro.Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPresenter struct {
	mock.Mock
}

func (m *mockPresenter) ShowLoading(title string)      { m.Called(title) }
func (m *mockPresenter) HideLoading()                  { m.Called() }
func (m *mockPresenter) ShowForm(form Form)            { m.Called(form) }
func (m *mockPresenter) ShowValidation(message string) { m.Called(message) }
func (m *mockPresenter) Success(message string)        { m.Called(message) }
func (m *mockPresenter) Error(message string)          { m.Called(message) }

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
