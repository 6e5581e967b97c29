package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SunnyX6/Datapillar-sub003"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
)

const definitionColumns = `
	id, workflow_id, name, component, params, timeout_ns, max_retries,
	retry_interval_ns, block, route, priority, shard_total, schedule,
	created_at, updated_at`

// GetDefinition fetches a definition for enrichment.
func (s *Store) GetDefinition(ctx context.Context, jobID id.JobID) (*job.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM datapillar_definitions
		WHERE id = $1`,
		jobID.String(),
	)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("datapillar/postgres: definition %s: %w", jobID, datapillar.ErrDefinitionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

// enrich attaches definition snapshots to loaded instances, one query for
// the distinct job ids of the batch.
func (s *Store) enrich(ctx context.Context, instances []*job.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	seen := make(map[id.JobID]struct{})
	var jobIDs []string
	for _, inst := range instances {
		if _, ok := seen[inst.JobID]; ok {
			continue
		}
		seen[inst.JobID] = struct{}{}
		jobIDs = append(jobIDs, inst.JobID.String())
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM datapillar_definitions
		WHERE id = ANY($1)`,
		jobIDs,
	)
	if err != nil {
		return fmt.Errorf("datapillar/postgres: enrich: %w", err)
	}
	defer rows.Close()

	defs := make(map[id.JobID]*job.Definition, len(jobIDs))
	for rows.Next() {
		def, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return scanErr
		}
		defs[def.ID] = def
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("datapillar/postgres: enrich: %w", err)
	}

	for _, inst := range instances {
		inst.Def = defs[inst.JobID]
	}
	return nil
}

func scanDefinition(row pgx.Row) (*job.Definition, error) {
	var (
		def             job.Definition
		defID           string
		workflowID      string
		timeoutNS       int64
		retryIntervalNS int64
		block           string
		route           string
	)
	err := row.Scan(
		&defID, &workflowID, &def.Name, &def.Component, &def.Params,
		&timeoutNS, &def.Retry.MaxRetries, &retryIntervalNS,
		&block, &route, &def.Priority, &def.Shard.Total, &def.Schedule,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan definition: %w", err)
	}

	if def.ID, err = id.ParseJobID(defID); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan definition: %w", err)
	}
	if def.WorkflowID, err = id.ParseWorkflowID(workflowID); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan definition: %w", err)
	}
	def.Timeout = time.Duration(timeoutNS)
	def.Retry.Interval = time.Duration(retryIntervalNS)
	def.Block = job.BlockStrategy(block)
	def.Route = job.RouteStrategy(route)
	return &def, nil
}
