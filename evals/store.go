// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	runsTable        = "eval_runs"
	caseResultsTable = "eval_case_results"
)

// RunStore persists benchmark runs for reporting. Persistence is for history
// only; RunBenchmark's result is authoritative for the gate.
type RunStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// NewRunStore creates the store and ensures its schema exists.
func NewRunStore(db *sqlx.DB) (*RunStore, error) {
	store := &RunStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ensure evals schema")
	}

	return store, nil
}

// SaveRun records a completed run and its per-case verdicts in one
// transaction.
func (s *RunStore) SaveRun(ctx context.Context, result *RunResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.builder.
		Insert(runsTable).
		Columns(
			"run_id", "organization_id", "good_count", "bad_count",
			"unknown_count", "score_good_pct", "threshold_good_pct",
			"pass_threshold", "started_at", "completed_at",
		).
		Values(
			result.RunID,
			result.OrganizationID,
			result.GoodCount,
			result.BadCount,
			result.UnknownCount,
			result.ScoreGoodPct,
			result.ThresholdGoodPct,
			result.PassThreshold,
			result.StartedAt.UTC(),
			result.CompletedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build run insert")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to insert run")
	}

	for _, caseResult := range result.Cases {
		reasons, err := json.Marshal(caseResult.Reasons)
		if err != nil {
			return errors.Wrap(err, "failed to marshal case reasons")
		}

		query, args, err := s.builder.
			Insert(caseResultsTable).
			Columns("run_id", "case_id", "verdict", "reasons").
			Values(result.RunID, caseResult.CaseID, caseResult.Verdict, reasons).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "failed to build case result insert")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert case result %s", caseResult.CaseID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit run")
}

// RunSummary is one persisted run's headline numbers.
type RunSummary struct {
	RunID            string    `json:"runId" db:"run_id"`
	OrganizationID   string    `json:"organizationId" db:"organization_id"`
	GoodCount        int       `json:"goodCount" db:"good_count"`
	BadCount         int       `json:"badCount" db:"bad_count"`
	UnknownCount     int       `json:"unknownCount" db:"unknown_count"`
	ScoreGoodPct     float64   `json:"scoreGoodPct" db:"score_good_pct"`
	ThresholdGoodPct float64   `json:"thresholdGoodPct" db:"threshold_good_pct"`
	PassThreshold    bool      `json:"passThreshold" db:"pass_threshold"`
	StartedAt        time.Time `json:"startedAt" db:"started_at"`
	CompletedAt      time.Time `json:"completedAt" db:"completed_at"`
}

// ListRuns returns an organization's most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, organizationID string, limit int) ([]RunSummary, error) {
	if organizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	query, args, err := s.builder.
		Select(
			"run_id", "organization_id", "good_count", "bad_count",
			"unknown_count", "score_good_pct", "threshold_good_pct",
			"pass_threshold", "started_at", "completed_at",
		).
		From(runsTable).
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build runs query")
	}

	var runs []RunSummary
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}

	return runs, nil
}

func (s *RunStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			good_count INTEGER NOT NULL,
			bad_count INTEGER NOT NULL,
			unknown_count INTEGER NOT NULL,
			score_good_pct DOUBLE PRECISION NOT NULL,
			threshold_good_pct DOUBLE PRECISION NOT NULL,
			pass_threshold BOOLEAN NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`, runsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL REFERENCES %s (run_id) ON DELETE CASCADE,
			case_id TEXT NOT NULL,
			verdict TEXT NOT NULL,
			reasons JSONB NOT NULL,
			PRIMARY KEY (run_id, case_id)
		)`, caseResultsTable, runsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS eval_runs_org_time_idx
			ON %s (organization_id, started_at)`, runsTable),
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return errors.Wrapf(err, "failed to execute schema statement: %s", statement)
		}
	}

	return nil
}
