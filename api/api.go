// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/internalwiki/assistant/config"
	"github.com/internalwiki/assistant/contract"
	"github.com/internalwiki/assistant/evals"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/metrics"
	"github.com/internalwiki/assistant/pipeline"
)

// Pipeline is the query surface the API exposes.
type Pipeline interface {
	Query(ctx context.Context, req pipeline.QueryRequest) (*pipeline.QueryResponse, error)
	BenchmarkExecutor(viewerPrincipalKeys []string, sourceACLs map[string][]string) evals.Execute
}

// Ingestor is the document write path.
type Ingestor interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// PassRateReporter serves rolling contract pass rates.
type PassRateReporter interface {
	PassRates(ctx context.Context, organizationID string, window time.Duration) (*contract.PassRateReport, error)
}

// RunSaver persists benchmark runs.
type RunSaver interface {
	SaveRun(ctx context.Context, result *evals.RunResult) error
}

// API is the HTTP surface of the assistant.
type API struct {
	engine         *gin.Engine
	pipeline       Pipeline
	ingestor       Ingestor
	passRates      PassRateReporter
	runs           RunSaver
	metricsService metrics.Metrics
	cfg            *config.Container
	log            logger.Logger
}

// New creates the API. ingestor, passRates, runs and metricsService may be
// nil; the matching endpoints then report unavailability. cfg is read live on
// every request, so hot reloads apply without a restart.
func New(pipelineService Pipeline, ingestor Ingestor, passRates PassRateReporter, runs RunSaver, metricsService metrics.Metrics, cfg *config.Container, log logger.Logger) *API {
	a := &API{
		pipeline:       pipelineService,
		ingestor:       ingestor,
		passRates:      passRates,
		runs:           runs,
		metricsService: metricsService,
		cfg:            cfg,
		log:            log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(a.ginlogger)
	engine.Use(a.metricsMiddleware)
	engine.Use(gin.Recovery())

	engine.GET("/health", a.handleHealth)
	if metricsService != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsService.GetRegistry(), promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	v1.POST("/query", a.handleQuery)
	v1.POST("/documents", a.handleIngestDocument)
	v1.POST("/evals/run", a.handleEvalRun)
	v1.GET("/contract/pass-rates", a.handlePassRates)

	a.engine = engine
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.engine.ServeHTTP(w, r)
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) handleQuery(c *gin.Context) {
	var request pipeline.QueryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithError(http.StatusBadRequest, errors.Wrap(err, "invalid query request"))
		return
	}
	if request.OrganizationID == "" || request.Question == "" {
		c.AbortWithError(http.StatusBadRequest, errors.New("organizationId and question are required"))
		return
	}

	start := time.Now()
	response, err := a.pipeline.Query(c.Request.Context(), request)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if a.metricsService != nil {
		a.metricsService.ObserveQuery(
			request.OrganizationID,
			response.Verification.Status,
			float64(response.Timings.RetrievalMs)/1000,
			float64(response.Timings.GenerationMs)/1000,
		)
		if response.Fallback {
			a.metricsService.IncrementRetrievalFallbacks(request.OrganizationID)
		}
	}

	a.log.Info("query answered",
		"organization_id", request.OrganizationID,
		"verification_status", response.Verification.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	c.JSON(http.StatusOK, response)
}

func (a *API) handleIngestDocument(c *gin.Context) {
	if a.ingestor == nil {
		c.AbortWithError(http.StatusNotImplemented, errors.New("document ingestion is not configured"))
		return
	}

	var request pipeline.IngestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithError(http.StatusBadRequest, errors.Wrap(err, "invalid ingest request"))
		return
	}
	if request.OrganizationID == "" || request.Document.DocumentID == "" || request.Document.DocVersionID == "" || request.Document.Content == "" {
		c.AbortWithError(http.StatusBadRequest, errors.New("organizationId, document.documentId, document.docVersionId and document.content are required"))
		return
	}

	result, err := a.ingestor.Ingest(c.Request.Context(), request)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// EvalRunRequest triggers one benchmark run. Cases defaults to the builtin
// set, the threshold to the configured gate.
type EvalRunRequest struct {
	OrganizationID      string              `json:"organizationId"`
	Cases               []evals.Case        `json:"cases,omitempty"`
	ThresholdGoodPct    float64             `json:"thresholdGoodPct,omitempty"`
	ViewerPrincipalKeys []string            `json:"viewerPrincipalKeys,omitempty"`
	SourceACLs          map[string][]string `json:"sourceAcls,omitempty"`
}

func (a *API) handleEvalRun(c *gin.Context) {
	var request EvalRunRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithError(http.StatusBadRequest, errors.Wrap(err, "invalid eval run request"))
		return
	}
	if request.OrganizationID == "" {
		c.AbortWithError(http.StatusBadRequest, errors.New("organizationId is required"))
		return
	}

	cases := request.Cases
	if len(cases) == 0 {
		cases = evals.BuiltinCases()
	}
	threshold := request.ThresholdGoodPct
	if threshold <= 0 && a.cfg != nil {
		if cfg := a.cfg.Config(); cfg != nil {
			threshold = cfg.Evals.ThresholdGoodPct
		}
	}

	result, err := evals.RunBenchmark(c.Request.Context(), evals.BenchmarkInput{
		OrganizationID:   request.OrganizationID,
		Cases:            cases,
		ThresholdGoodPct: threshold,
		Execute:          a.pipeline.BenchmarkExecutor(request.ViewerPrincipalKeys, request.SourceACLs),
	})
	if err != nil {
		if errors.Is(err, evals.ErrMissingResponse) {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if a.runs != nil {
		if err := a.runs.SaveRun(c.Request.Context(), result); err != nil {
			// History only; the run result still goes out.
			a.log.Error("failed to persist eval run", "error", err, "run_id", result.RunID)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (a *API) handlePassRates(c *gin.Context) {
	if a.passRates == nil {
		c.AbortWithError(http.StatusNotImplemented, errors.New("contract reporting is not configured"))
		return
	}

	organizationID := c.Query("organizationId")
	if organizationID == "" {
		c.AbortWithError(http.StatusBadRequest, errors.New("organizationId is required"))
		return
	}

	window := contract.DefaultPassRateWindow
	if daysParam := c.Query("windowDays"); daysParam != "" {
		days, err := strconv.Atoi(daysParam)
		if err != nil || days <= 0 {
			c.AbortWithError(http.StatusBadRequest, errors.New("windowDays must be a positive number"))
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	report, err := a.passRates.PassRates(c.Request.Context(), organizationID, window)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
