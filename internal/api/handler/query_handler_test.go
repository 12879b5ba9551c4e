package handler_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mdad-elec/cv-analysis-system/internal/api/handler"
	"github.com/mdad-elec/cv-analysis-system/internal/processor"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Query(ctx context.Context, query string, documentIDs []string) (*types.QueryRecord, error) {
	args := m.Called(ctx, query, documentIDs)
	r, _ := args.Get(0).(*types.QueryRecord)
	return r, args.Error(1)
}

func (m *mockRunner) FollowUp(ctx context.Context, query, conversation string, documentIDs []string) (*types.QueryRecord, error) {
	args := m.Called(ctx, query, conversation, documentIDs)
	r, _ := args.Get(0).(*types.QueryRecord)
	return r, args.Error(1)
}

func (m *mockRunner) GetRecord(ctx context.Context, id string) (*types.QueryRecord, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*types.QueryRecord)
	return r, args.Error(1)
}

func queryEngine(runner handler.QueryRunner) *server.Hertz {
	return newEngine(handler.NewCVHandler(testConfig(), new(mockStore), new(mockIngestor)), runner, "")
}

func postJSON(h *server.Hertz, path, body string) *ut.ResponseRecorder {
	buf := bytes.NewBufferString(body)
	return ut.PerformRequest(h.Engine, http.MethodPost, path,
		&ut.Body{Body: buf, Len: buf.Len()},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
}

func TestHandleQuery(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Query", mock.Anything, "who knows Go?", []string{"d1"}).Return(&types.QueryRecord{
		ID:          "q1",
		Query:       "who knows Go?",
		Response:    "Ann Lee.",
		DocumentIDs: []string{"d1"},
	}, nil)

	resp := postJSON(queryEngine(runner), "/api/v1/query", `{"query":"who knows Go?","document_ids":["d1"]}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"query_id":"q1","query":"who knows Go?","response":"Ann Lee.","document_ids":["d1"]}`, resp.Body.String())
}

func TestHandleQuery_EmptyDocumentIDsSerializeAsArray(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Query", mock.Anything, "anyone?", []string(nil)).Return(&types.QueryRecord{ID: "q2", Query: "anyone?", Response: "No CVs."}, nil)

	resp := postJSON(queryEngine(runner), "/api/v1/query", `{"query":"anyone?"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"query_id":"q2","query":"anyone?","response":"No CVs.","document_ids":[]}`, resp.Body.String())
}

func TestHandleQuery_Validation(t *testing.T) {
	runner := new(mockRunner)
	h := queryEngine(runner)

	cases := map[string]string{
		"bad json":      `{"query":`,
		"missing query": `{"document_ids":["d1"]}`,
		"blank query":   `{"query":"   "}`,
		"empty id":      `{"query":"q","document_ids":[""]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(h, "/api/v1/query", body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
	runner.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleQuery_ProviderError(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("LLM Generate failed"))

	resp := postJSON(queryEngine(runner), "/api/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "LLM Generate failed")
}

func TestHandleFollowUp(t *testing.T) {
	runner := new(mockRunner)
	conversation := "User: who knows Go?\nAssistant: Ann Lee."
	runner.On("FollowUp", mock.Anything, "where did she study?", conversation, []string(nil)).
		Return(&types.QueryRecord{ID: "q3", Query: "where did she study?", Response: "MIT.", DocumentIDs: []string{"d1"}}, nil)
	h := queryEngine(runner)

	resp := postJSON(h, "/api/v1/query/followup",
		`{"query":"where did she study?","conversation_context":"User: who knows Go?\nAssistant: Ann Lee."}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"query_id":"q3","query":"where did she study?","response":"MIT.","document_ids":["d1"]}`, resp.Body.String())

	resp = postJSON(h, "/api/v1/query/followup", `{"query":"where?"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleGetQuery(t *testing.T) {
	runner := new(mockRunner)
	runner.On("GetRecord", mock.Anything, "q1").Return(&types.QueryRecord{ID: "q1", Query: "hi", Response: "hello"}, nil)
	runner.On("GetRecord", mock.Anything, "gone").Return(nil, storage.ErrQueryNotFound)
	runner.On("GetRecord", mock.Anything, "off").Return(nil, processor.ErrQueryHistoryUnavailable)
	h := queryEngine(runner)

	resp := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/query/q1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"response":"hello"`)

	resp = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/query/gone", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/query/off", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
