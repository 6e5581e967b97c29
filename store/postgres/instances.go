package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/SunnyX6/Datapillar-sub003"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
)

const instanceColumns = `
	id, run_id, job_id, bucket, status, trigger_at, params, retry_count,
	parents, created_at, updated_at`

// LoadBuckets bulk-loads all non-terminal instances of the bucket set,
// one parallel query per bucket, definitions enriched.
func (s *Store) LoadBuckets(ctx context.Context, buckets []int) ([]*job.Instance, error) {
	if len(buckets) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]*job.Instance, len(buckets))
	for i, bucket := range buckets {
		g.Go(func() error {
			instances, err := s.queryInstances(gctx, `
				SELECT `+instanceColumns+`
				FROM datapillar_instances
				WHERE bucket = $1
				  AND status IN ('waiting', 'running')`,
				bucket,
			)
			if err != nil {
				return err
			}
			results[i] = instances
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*job.Instance
	for _, instances := range results {
		out = append(out, instances...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	if err := s.enrich(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadBucket loads all non-terminal instances of a single bucket.
func (s *Store) LoadBucket(ctx context.Context, bucket int) ([]*job.Instance, error) {
	return s.LoadBuckets(ctx, []int{bucket})
}

// LoadSince loads instances of the bucket set created after the given id.
// Ids are K-sortable, so "after" is a plain text comparison.
func (s *Store) LoadSince(ctx context.Context, buckets []int, after id.InstanceID) ([]*job.Instance, error) {
	if len(buckets) == 0 {
		return nil, nil
	}
	instances, err := s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM datapillar_instances
		WHERE bucket = ANY($1)
		  AND status IN ('waiting', 'running')
		  AND id > $2
		ORDER BY id`,
		buckets, after.String(),
	)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// ListRerun returns instances from the failed-id list marked for rerun,
// clearing the mark so a rerun fires once.
func (s *Store) ListRerun(ctx context.Context, failed []id.InstanceID) ([]*job.Instance, error) {
	if len(failed) == 0 {
		return nil, nil
	}
	ids := make([]string, len(failed))
	for i, instID := range failed {
		ids[i] = instID.String()
	}
	instances, err := s.queryInstances(ctx, `
		UPDATE datapillar_instances
		SET rerun = FALSE, updated_at = NOW()
		WHERE id = ANY($1) AND rerun
		RETURNING `+instanceColumns,
		ids,
	)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// PersistStatuses writes a batch of status transitions in one statement.
func (s *Store) PersistStatuses(ctx context.Context, changes []job.StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	ids := make([]string, len(changes))
	statuses := make([]string, len(changes))
	ats := make([]time.Time, len(changes))
	for i, c := range changes {
		ids[i] = c.InstanceID.String()
		statuses[i] = string(c.Status)
		ats[i] = c.At
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE datapillar_instances AS i
		SET status = c.status, updated_at = c.at
		FROM (
			SELECT unnest($1::text[]) AS id,
			       unnest($2::text[]) AS status,
			       unnest($3::timestamptz[]) AS at
		) AS c
		WHERE i.id = c.id`,
		ids, statuses, ats,
	)
	if err != nil {
		return fmt.Errorf("datapillar/postgres: persist statuses: %w", err)
	}
	return nil
}

// UpdateStatus synchronously writes a single status transition.
func (s *Store) UpdateStatus(ctx context.Context, instanceID id.InstanceID, status job.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datapillar_instances
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		instanceID.String(), string(status),
	)
	if err != nil {
		return fmt.Errorf("datapillar/postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("datapillar/postgres: update status: instance %s: %w", instanceID, datapillar.ErrInstanceNotFound)
	}
	return nil
}

// SavedBuckets returns the buckets durably recorded for the worker.
func (s *Store) SavedBuckets(ctx context.Context, workerID id.WorkerID) ([]int, error) {
	var buckets []int
	err := s.pool.QueryRow(ctx, `
		SELECT buckets FROM datapillar_worker_buckets WHERE worker_id = $1`,
		workerID.String(),
	).Scan(&buckets)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datapillar/postgres: saved buckets: %w", err)
	}
	return buckets, nil
}

// SaveBuckets durably records the worker's held bucket set.
func (s *Store) SaveBuckets(ctx context.Context, workerID id.WorkerID, buckets []int) error {
	if buckets == nil {
		buckets = []int{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datapillar_worker_buckets (worker_id, buckets, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id)
		DO UPDATE SET buckets = EXCLUDED.buckets, updated_at = NOW()`,
		workerID.String(), buckets,
	)
	if err != nil {
		return fmt.Errorf("datapillar/postgres: save buckets: %w", err)
	}
	return nil
}

// queryInstances runs a query returning instance rows.
func (s *Store) queryInstances(ctx context.Context, sql string, args ...any) ([]*job.Instance, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("datapillar/postgres: query instances: %w", err)
	}
	defer rows.Close()

	var out []*job.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: query instances: %w", err)
	}
	return out, nil
}

func scanInstance(row pgx.Row) (*job.Instance, error) {
	var (
		inst       job.Instance
		instID     string
		runID      string
		jobID      string
		status     string
		rawParents []string
	)
	err := row.Scan(
		&instID, &runID, &jobID, &inst.Bucket, &status, &inst.TriggerAt,
		&inst.Params, &inst.RetryCount, &rawParents,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan instance: %w", err)
	}

	if inst.ID, err = id.ParseInstanceID(instID); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan instance: %w", err)
	}
	if inst.RunID, err = id.ParseRunID(runID); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan instance: %w", err)
	}
	if inst.JobID, err = id.ParseJobID(jobID); err != nil {
		return nil, fmt.Errorf("datapillar/postgres: scan instance: %w", err)
	}
	inst.Status = job.Status(status)
	for _, raw := range rawParents {
		parent, perr := id.ParseInstanceID(raw)
		if perr != nil {
			return nil, fmt.Errorf("datapillar/postgres: scan instance parents: %w", perr)
		}
		inst.Parents = append(inst.Parents, parent)
	}
	return &inst, nil
}
