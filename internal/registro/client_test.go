package registro

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, scope Scope, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Scope: scope, Tokens: StaticToken("tok-123")})
}

func TestListUsesScopePrefix(t *testing.T) {
	var gotPath string
	client := newTestClient(t, ScopeTraining, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NotEmpty(t, r.Header.Get(RequestIDHeaderName))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","registros":[{"id":7,"servidor_nome":"Ana","data_entrada":"01/02/2024","hora_entrada":"08:00","saida_pendente":true}],"total_entradas":3,"total_saidas":1,"total_pendentes":2}`))
	})

	res, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/treinamento/registros/", gotPath)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(7), res.Records[0].ID)
	assert.True(t, res.Records[0].SaidaPendente)
	require.NotNil(t, res.Counters)
	assert.Equal(t, Counters{Entradas: 3, Saidas: 1, Pendentes: 2}, *res.Counters)
}

func TestListAcceptsLegacyShapes(t *testing.T) {
	t.Run("data field", func(t *testing.T) {
		client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/registros/", r.URL.Path)
			_, _ = w.Write([]byte(`{"status":"success","data":[{"id":1,"data":"02/03/2024","hora_entrada":"09:15"}]}`))
		})
		res, err := client.List(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Records, 1)
		assert.Equal(t, "02/03/2024", res.Records[0].EntryDate())
		assert.Nil(t, res.Counters)
	})

	t.Run("bare array with combined date and time", func(t *testing.T) {
		client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id":2,"hora_entrada":"05/06/2024 07:45","hora_saida":null,"setor":"-"}]`))
		})
		res, err := client.List(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Records, 1)
		rec := res.Records[0]
		assert.Equal(t, "05/06/2024", rec.DataEntrada)
		assert.Equal(t, "07:45", rec.HoraEntrada)
		assert.False(t, rec.HasExit())
	})
}

func TestListErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "application error on 200",
			status: http.StatusOK,
			body:   `{"status":"error","message":"Sem permissão"}`,
			check: func(t *testing.T, err error) {
				var appErr *ApplicationError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "Sem permissão", appErr.Message)
			},
		},
		{
			name:   "non-2xx without json",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			check: func(t *testing.T, err error) {
				var transportErr *TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
				assert.Equal(t, "Erro na requisição: 502 Bad Gateway", transportErr.Error())
			},
		},
		{
			name:   "non-2xx with message",
			status: http.StatusNotFound,
			body:   `{"message":"Registro não encontrado"}`,
			check: func(t *testing.T, err error) {
				var transportErr *TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, "Registro não encontrado", UserMessage(err))
			},
		},
		{
			name:   "malformed 2xx body",
			status: http.StatusOK,
			body:   `<!doctype html><p>login</p>`,
			check: func(t *testing.T, err error) {
				var malformedErr *MalformedResponseError
				require.ErrorAs(t, err, &malformedErr)
				var transportErr *TransportError
				assert.False(t, errors.As(err, &transportErr))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.List(context.Background())
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := NewClient(Config{BaseURL: srv.URL})

	_, err := client.List(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Zero(t, transportErr.StatusCode)
}

func TestUpdateSendsFormWithCSRFHeader(t *testing.T) {
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/registro/42/editar/", r.URL.Path)
		assert.Equal(t, "tok-123", r.Header.Get(CSRFHeaderName))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2024-02-01", r.PostForm.Get("data_entrada"))
		assert.Equal(t, "08:00", r.PostForm.Get("hora_entrada"))
		assert.Equal(t, "2024-02-01", r.PostForm.Get("data_saida"))
		assert.Equal(t, "17:30", r.PostForm.Get("hora_saida"))
		assert.Equal(t, "on", r.PostForm.Get("isv"))
		_, _ = w.Write([]byte(`{"status":"success","message":"Registro atualizado"}`))
	})

	res, err := client.Update(context.Background(), 42, EditForm{
		DataEntrada: "2024-02-01",
		HoraEntrada: "08:00",
		DataSaida:   "2024-02-01",
		HoraSaida:   "17:30",
		ISV:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Registro atualizado", res.Message)
}

func TestCreateManualPostsInstantAndJustification(t *testing.T) {
	client := newTestClient(t, ScopeTraining, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/treinamento/registro/manual/", r.URL.Path)
		assert.Equal(t, "tok-123", r.Header.Get(CSRFHeaderName))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "5", r.PostForm.Get("servidor_id"))
		assert.Equal(t, "SAIDA", r.PostForm.Get("tipo_acesso"))
		assert.Equal(t, "2024-02-01T18:10", r.PostForm.Get("data_hora_manual"))
		assert.Equal(t, "Catraca travada", r.PostForm.Get("justificativa"))
		_, _ = w.Write([]byte(`{"status":"success","message":"Saída manual registrada com sucesso!"}`))
	})

	res, err := client.CreateManual(context.Background(), ManualEntryForm{
		ServidorID:     5,
		TipoAcesso:     AccessExit,
		DataHoraManual: "2024-02-01T18:10",
		Justificativa:  " Catraca travada ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Saída manual registrada com sucesso!", res.Message)
}

func TestUpdateValidationSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.Update(context.Background(), 1, EditForm{
		DataEntrada: "2024-02-01",
		HoraEntrada: "08:00",
		DataSaida:   "2024-02-01",
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "Campo faltando: hora")
	assert.Zero(t, calls.Load())
}

func TestDeleteRequiresJustification(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "duplicado", r.PostForm.Get("justificativa"))
		assert.Equal(t, "/registro/9/excluir/", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})

	_, err := client.Delete(context.Background(), 9, "   ")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "A justificativa é obrigatória", validationErr.Message)
	assert.Zero(t, calls.Load())

	_, err = client.Delete(context.Background(), 9, " duplicado ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMutationWithoutTokenFails(t *testing.T) {
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	}).WithTokens(StaticToken(""))

	_, err := client.RegisterExit(context.Background(), 3)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMutationAcceptsEmptyBody(t *testing.T) {
	client := newTestClient(t, ScopeTraining, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/treinamento/registro/3/saida/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	res, err := client.RegisterExit(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
}

func TestClearAllApplicationErrorOnUnauthorized(t *testing.T) {
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/limpar-dashboard/", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","message":"Senha incorreta"}`))
	})

	_, err := client.ClearAll(context.Background(), "errada")
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	assert.Equal(t, "Senha incorreta", appErr.Error())
}

func TestSearchServidores(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/buscar-servidor/", r.URL.Path)
		assert.Equal(t, "joao", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`[{"id":5,"nome":"João Silva","numero_documento":"123"}]`))
	})

	short, err := client.SearchServidores(context.Background(), "jo")
	require.NoError(t, err)
	assert.Empty(t, short)
	assert.Zero(t, calls.Load())

	found, err := client.SearchServidores(context.Background(), "joao")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "João Silva", found[0].Nome)
}

func TestDetailAndCSRF(t *testing.T) {
	client := newTestClient(t, ScopeProduction, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf/":
			_, _ = w.Write([]byte(`{"csrf_token":"abc"}`))
		case "/registro/11/detalhe/":
			_, _ = w.Write([]byte(`{"servidor":{"nome":"Maria"},"data":"2024-05-04","hora_entrada":"06:10","hora_saida":"-","saida_pendente":true}`))
		default:
			http.NotFound(w, r)
		}
	})

	token, err := client.FetchCSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	detail, err := client.Detail(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, int64(11), detail.ID)
	assert.Equal(t, "Maria", detail.Nome())
	assert.True(t, detail.SaidaPendente)
}

func TestExportURL(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://api.local/", Scope: ScopeTraining})
	assert.Equal(t, "http://api.local/treinamento/exportar-excel/", client.ExportURL())
}
