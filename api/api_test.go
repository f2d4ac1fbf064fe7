// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/chunking"
	"github.com/internalwiki/assistant/config"
	"github.com/internalwiki/assistant/contract"
	"github.com/internalwiki/assistant/evals"
	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/metrics"
	"github.com/internalwiki/assistant/pipeline"
)

type fakePipeline struct {
	response *pipeline.QueryResponse
	err      error
}

func (f *fakePipeline) Query(_ context.Context, _ pipeline.QueryRequest) (*pipeline.QueryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakePipeline) BenchmarkExecutor(_ []string, _ map[string][]string) evals.Execute {
	return func(_ context.Context, _ string, _ evals.Case) (*evals.Response, error) {
		if f.err != nil {
			return nil, f.err
		}
		chunkIDs := make([]string, 0, len(f.response.Citations))
		for _, citation := range f.response.Citations {
			chunkIDs = append(chunkIDs, citation.ChunkID)
		}
		return &evals.Response{
			Answer:           f.response.Answer,
			CitationChunkIDs: chunkIDs,
			CitationCoverage: f.response.Grounding.CitationCoverage,
		}, nil
	}
}

type fakePassRates struct {
	report *contract.PassRateReport
}

func (f *fakePassRates) PassRates(_ context.Context, organizationID string, _ time.Duration) (*contract.PassRateReport, error) {
	if organizationID == "" {
		return nil, errors.New("organization id is required")
	}
	return f.report, nil
}

func passedResponse() *pipeline.QueryResponse {
	return &pipeline.QueryResponse{
		Answer:     "Use the Rollback button on the deploy dashboard.",
		Confidence: 0.78,
		Citations: []llm.Citation{
			{ChunkID: "runbook:0", SourceURL: "https://wiki.example.com/runbook"},
		},
		Grounding:    pipeline.Grounding{CitationCoverage: 1.0},
		Verification: pipeline.Verification{Status: contract.StatusPassed},
		Timings:      pipeline.Timings{RetrievalMs: 12, GenerationMs: 40},
		Model:        "mock",
	}
}

func chunkingDocument() chunking.Document {
	return chunking.Document{
		DocumentID:   "doc-1",
		DocVersionID: "ver-1",
		Title:        "Deploy runbook",
		Content:      "Use the Rollback button on the deploy dashboard.",
	}
}

type fakeIngestor struct {
	result *pipeline.IngestResult
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, _ pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testConfigContainer() *config.Container {
	container := &config.Container{}
	container.Update(config.Default())
	return container
}

func newTestAPI(fake *fakePipeline, passRates PassRateReporter) *API {
	return New(fake, nil, passRates, nil, metrics.NewMetrics(metrics.InstanceInfo{Version: "test"}), testConfigContainer(), logger.NewNop())
}

func postJSON(t *testing.T, a *API, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	a.ServeHTTP(recorder, request)
	return recorder
}

func TestHandleQuery(t *testing.T) {
	t.Run("answers a valid query", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := postJSON(t, a, "/api/v1/query", pipeline.QueryRequest{
			OrganizationID: "org-1",
			Question:       "How do we roll back a deploy?",
		})

		require.Equal(t, http.StatusOK, recorder.Code)

		var response pipeline.QueryResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, contract.StatusPassed, response.Verification.Status)
		assert.Equal(t, 0.78, response.Confidence)
	})

	t.Run("rejects a query without organization", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := postJSON(t, a, "/api/v1/query", pipeline.QueryRequest{Question: "q"})

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("pipeline failures are 500s", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{err: errors.New("provider unavailable")}, nil)

		recorder := postJSON(t, a, "/api/v1/query", pipeline.QueryRequest{
			OrganizationID: "org-1",
			Question:       "q",
		})

		assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	})
}

func TestHandleEvalRun(t *testing.T) {
	t.Run("runs supplied cases", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := postJSON(t, a, "/api/v1/evals/run", EvalRunRequest{
			OrganizationID: "org-1",
			Cases: []evals.Case{
				{ID: "rollback", Query: "How do we roll back?", ExpectedAnyAnswerPhrases: []string{"rollback"}},
			},
		})

		require.Equal(t, http.StatusOK, recorder.Code)

		var result evals.RunResult
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.Equal(t, 100.0, result.ScoreGoodPct)
		assert.True(t, result.PassThreshold)
		assert.Equal(t, 75.0, result.ThresholdGoodPct)
	})

	t.Run("requires an organization", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := postJSON(t, a, "/api/v1/evals/run", EvalRunRequest{})

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("reads the threshold from the live configuration", func(t *testing.T) {
		container := testConfigContainer()
		a := New(&fakePipeline{response: passedResponse()}, nil, nil, nil, metrics.NewMetrics(metrics.InstanceInfo{Version: "test"}), container, logger.NewNop())

		cases := []evals.Case{
			{ID: "rollback", Query: "How do we roll back?", ExpectedAnyAnswerPhrases: []string{"rollback"}},
		}

		recorder := postJSON(t, a, "/api/v1/evals/run", EvalRunRequest{OrganizationID: "org-1", Cases: cases})
		require.Equal(t, http.StatusOK, recorder.Code)

		var result evals.RunResult
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.Equal(t, 75.0, result.ThresholdGoodPct)

		reloaded := config.Default()
		reloaded.Evals.ThresholdGoodPct = 90
		container.Update(reloaded)

		recorder = postJSON(t, a, "/api/v1/evals/run", EvalRunRequest{OrganizationID: "org-1", Cases: cases})
		require.Equal(t, http.StatusOK, recorder.Code)

		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.Equal(t, 90.0, result.ThresholdGoodPct)
	})
}

func TestHandleIngestDocument(t *testing.T) {
	ingestRequest := func() pipeline.IngestRequest {
		return pipeline.IngestRequest{
			OrganizationID: "org-1",
			Document:       chunkingDocument(),
		}
	}

	t.Run("indexes a valid document", func(t *testing.T) {
		ingestor := &fakeIngestor{result: &pipeline.IngestResult{
			DocumentID:   "doc-1",
			DocVersionID: "ver-1",
			ChunkCount:   2,
			SourceScore:  81,
		}}
		a := New(&fakePipeline{response: passedResponse()}, ingestor, nil, nil, metrics.NewMetrics(metrics.InstanceInfo{Version: "test"}), testConfigContainer(), logger.NewNop())

		recorder := postJSON(t, a, "/api/v1/documents", ingestRequest())
		require.Equal(t, http.StatusOK, recorder.Code)

		var result pipeline.IngestResult
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.Equal(t, 2, result.ChunkCount)
		assert.Equal(t, 81, result.SourceScore)
	})

	t.Run("rejects an incomplete document", func(t *testing.T) {
		a := New(&fakePipeline{response: passedResponse()}, &fakeIngestor{}, nil, nil, metrics.NewMetrics(metrics.InstanceInfo{Version: "test"}), testConfigContainer(), logger.NewNop())

		request := ingestRequest()
		request.Document.DocVersionID = ""
		recorder := postJSON(t, a, "/api/v1/documents", request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("ingestion failures are 500s", func(t *testing.T) {
		a := New(&fakePipeline{response: passedResponse()}, &fakeIngestor{err: errors.New("connection refused")}, nil, nil, metrics.NewMetrics(metrics.InstanceInfo{Version: "test"}), testConfigContainer(), logger.NewNop())

		recorder := postJSON(t, a, "/api/v1/documents", ingestRequest())

		assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	})

	t.Run("not implemented without an ingestor", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := postJSON(t, a, "/api/v1/documents", ingestRequest())

		assert.Equal(t, http.StatusNotImplemented, recorder.Code)
	})
}

func TestHandlePassRates(t *testing.T) {
	report := &contract.PassRateReport{
		OrganizationID: "org-1",
		Overall:        contract.PassRate{Dimension: "overall", Total: 4, Passed: 3, Rate: 0.75},
	}

	t.Run("serves the report", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, &fakePassRates{report: report})

		recorder := httptest.NewRecorder()
		a.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/contract/pass-rates?organizationId=org-1&windowDays=7", nil))

		require.Equal(t, http.StatusOK, recorder.Code)

		var got contract.PassRateReport
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
		assert.Equal(t, 0.75, got.Overall.Rate)
	})

	t.Run("rejects a bad window", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, &fakePassRates{report: report})

		recorder := httptest.NewRecorder()
		a.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/contract/pass-rates?organizationId=org-1&windowDays=soon", nil))

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("not implemented without a store", func(t *testing.T) {
		a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

		recorder := httptest.NewRecorder()
		a.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/contract/pass-rates?organizationId=org-1", nil))

		assert.Equal(t, http.StatusNotImplemented, recorder.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(&fakePipeline{response: passedResponse()}, nil)

	recorder := httptest.NewRecorder()
	a.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	a.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "internalwiki_system_info")
}
