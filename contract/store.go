// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const evaluationsTable = "contract_evaluations"

// DefaultPassRateWindow is the rolling window used for pass-rate reporting.
const DefaultPassRateWindow = 7 * 24 * time.Hour

// Store persists contract evaluations for rolling pass-rate reporting. It is
// reporting-only: queries never gate an answer.
type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// NewStore creates the store and ensures its schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	store := &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ensure contract schema")
	}

	return store, nil
}

// SaveEvaluation records one answer's evaluation.
func (s *Store) SaveEvaluation(ctx context.Context, evaluation Evaluation) error {
	payload, err := json.Marshal(evaluation)
	if err != nil {
		return errors.Wrap(err, "failed to marshal evaluation")
	}

	query, args, err := s.builder.
		Insert(evaluationsTable).
		Columns(
			"id", "organization_id", "status",
			"groundedness_status", "freshness_status", "permission_safety_status",
			"payload", "evaluated_at",
		).
		Values(
			evaluation.ID,
			evaluation.OrganizationID,
			evaluation.Status,
			evaluation.Groundedness.Status,
			evaluation.Freshness.Status,
			evaluation.PermissionSafety.Status,
			payload,
			evaluation.EvaluatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build evaluation insert")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to insert evaluation")
	}

	return nil
}

// PassRate is one dimension's aggregate over a reporting window.
type PassRate struct {
	Dimension string  `json:"dimension"`
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Rate      float64 `json:"rate"`
}

// PassRateReport aggregates evaluations for one organization over a rolling
// window.
type PassRateReport struct {
	OrganizationID string              `json:"organizationId"`
	WindowStart    time.Time           `json:"windowStart"`
	WindowEnd      time.Time           `json:"windowEnd"`
	Overall        PassRate            `json:"overall"`
	Dimensions     map[string]PassRate `json:"dimensions"`
}

type passRateRow struct {
	Total                  int `db:"total"`
	Passed                 int `db:"passed"`
	GroundednessPassed     int `db:"groundedness_passed"`
	FreshnessPassed        int `db:"freshness_passed"`
	PermissionSafetyPassed int `db:"permission_safety_passed"`
}

// PassRates reports per-dimension pass rates for an organization over the
// given window. A zero window defaults to the rolling 7 days.
func (s *Store) PassRates(ctx context.Context, organizationID string, window time.Duration) (*PassRateReport, error) {
	if organizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if window <= 0 {
		window = DefaultPassRateWindow
	}

	end := time.Now().UTC()
	start := end.Add(-window)

	query, args, err := s.builder.
		Select(
			"COUNT(*) AS total",
			countPassed("status", "passed"),
			countPassed("groundedness_status", "groundedness_passed"),
			countPassed("freshness_status", "freshness_passed"),
			countPassed("permission_safety_status", "permission_safety_passed"),
		).
		From(evaluationsTable).
		Where(sq.Eq{"organization_id": organizationID}).
		Where(sq.GtOrEq{"evaluated_at": start}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build pass-rate query")
	}

	var row passRateRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query pass rates")
	}

	return &PassRateReport{
		OrganizationID: organizationID,
		WindowStart:    start,
		WindowEnd:      end,
		Overall:        newPassRate("overall", row.Total, row.Passed),
		Dimensions: map[string]PassRate{
			"groundedness":     newPassRate("groundedness", row.Total, row.GroundednessPassed),
			"freshness":        newPassRate("freshness", row.Total, row.FreshnessPassed),
			"permissionSafety": newPassRate("permissionSafety", row.Total, row.PermissionSafetyPassed),
		},
	}, nil
}

func countPassed(column, alias string) string {
	return fmt.Sprintf("COUNT(*) FILTER (WHERE %s = '%s') AS %s", column, StatusPassed, alias)
}

func newPassRate(dimension string, total, passed int) PassRate {
	rate := 0.0
	if total > 0 {
		rate = float64(passed) / float64(total)
	}
	return PassRate{
		Dimension: dimension,
		Total:     total,
		Passed:    passed,
		Rate:      rate,
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			status TEXT NOT NULL,
			groundedness_status TEXT NOT NULL,
			freshness_status TEXT NOT NULL,
			permission_safety_status TEXT NOT NULL,
			payload JSONB NOT NULL,
			evaluated_at TIMESTAMPTZ NOT NULL
		)`, evaluationsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS contract_evaluations_org_time_idx
			ON %s (organization_id, evaluated_at)`, evaluationsTable),
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return errors.Wrapf(err, "failed to execute schema statement: %s", statement)
		}
	}

	return nil
}
