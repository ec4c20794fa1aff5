package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/answerdesk/answerdesk-back/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			tenant_id,
			kind,
			name,
			status,
			skill_ids,
			file_context,
			file_context_tokens,
			error_message,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		job.ID,
		job.TenantID,
		string(job.Kind),
		job.Name,
		string(job.Status),
		job.SkillIDs,
		job.FileContext,
		job.FileContextTokens,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job    domain.Job
		kind   string
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, kind, name, status, skill_ids, file_context,
			file_context_tokens, error_message, completed_at, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&job.TenantID,
		&kind,
		&job.Name,
		&status,
		&job.SkillIDs,
		&job.FileContext,
		&job.FileContextTokens,
		&job.ErrorMessage,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *PostgresJobsRepository) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	errorMessage string,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`, jobID, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) SetJobCompleted(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	completedAt time.Time,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = $3, updated_at = now()
		WHERE id = $1
	`, jobID, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) CreateRows(ctx context.Context, rows []*domain.Row) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO job_rows (
				id, job_id, row_number, question, context, source, status, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			row.ID,
			row.JobID,
			row.RowNumber,
			row.Question,
			row.Context,
			row.Source,
			string(row.Status),
			row.CreatedAt,
			row.UpdatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return nil
}

func (r *PostgresJobsRepository) ListRows(ctx context.Context, jobID string) ([]*domain.Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, row_number, question, context, source, status, output,
			batch_number, error_message, error_id, processed_at, created_at, updated_at
		FROM job_rows
		WHERE job_id = $1
		ORDER BY row_number ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Row, 0)
	for rows.Next() {
		var (
			row    domain.Row
			status string
			output []byte
		)
		if err := rows.Scan(
			&row.ID,
			&row.JobID,
			&row.RowNumber,
			&row.Question,
			&row.Context,
			&row.Source,
			&status,
			&output,
			&row.BatchNumber,
			&row.ErrorMessage,
			&row.ErrorID,
			&row.ProcessedAt,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row.Status = domain.RowStatus(status)
		if len(output) > 0 {
			decoded := domain.RowOutput{}
			if err := json.Unmarshal(output, &decoded); err != nil {
				return nil, fmt.Errorf("decode row output %s: %w", row.ID, err)
			}
			row.Output = &decoded
		}
		result = append(result, &row)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate rows: %w", rows.Err())
	}
	return result, nil
}

func (r *PostgresJobsRepository) MarkRowsProcessing(
	ctx context.Context,
	jobID string,
	rowIDs []string,
) error {
	if len(rowIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE job_rows
		SET status = 'processing', updated_at = now()
		WHERE job_id = $1 AND id = ANY($2)
	`, jobID, rowIDs)
	if err != nil {
		return fmt.Errorf("mark rows processing: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) SaveRowOutcome(ctx context.Context, outcome RowOutcome) error {
	encoded, err := json.Marshal(outcome.Output)
	if err != nil {
		return fmt.Errorf("encode row output: %w", err)
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE job_rows
		SET status = 'completed',
			output = $2,
			batch_number = $3,
			error_message = '',
			error_id = '',
			processed_at = $4,
			updated_at = now()
		WHERE id = $1
	`, outcome.RowID, encoded, outcome.BatchNumber, outcome.ProcessedAt)
	if err != nil {
		return fmt.Errorf("save row outcome: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := r.touchJobForRow(ctx, outcome.RowID); err != nil {
		return err
	}
	return nil
}

func (r *PostgresJobsRepository) MarkRowError(
	ctx context.Context,
	rowID, message, errorID string,
	batchNumber int,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE job_rows
		SET status = 'error',
			error_message = $2,
			error_id = $3,
			batch_number = $4,
			updated_at = now()
		WHERE id = $1
	`, rowID, message, errorID, batchNumber)
	if err != nil {
		return fmt.Errorf("mark row error: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := r.touchJobForRow(ctx, rowID); err != nil {
		return err
	}
	return nil
}

func (r *PostgresJobsRepository) ResetRowPending(ctx context.Context, rowID string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE job_rows
		SET status = 'pending', batch_number = 0, updated_at = now()
		WHERE id = $1
	`, rowID)
	if err != nil {
		return fmt.Errorf("reset row pending: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := r.touchJobForRow(ctx, rowID); err != nil {
		return err
	}
	return nil
}

func (r *PostgresJobsRepository) touchJobForRow(ctx context.Context, rowID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET updated_at = now()
		WHERE id = (SELECT job_id FROM job_rows WHERE id = $1)
	`, rowID)
	if err != nil {
		return fmt.Errorf("touch job for row: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) CountRows(
	ctx context.Context,
	jobID string,
) (domain.StatusCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM job_rows
		WHERE job_id = $1
		GROUP BY status
	`, jobID)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("count rows: %w", err)
	}
	defer rows.Close()

	counts := domain.StatusCounts{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return domain.StatusCounts{}, fmt.Errorf("scan row count: %w", err)
		}
		counts.Total += count
		switch domain.RowStatus(status) {
		case domain.RowStatusPending:
			counts.Pending = count
		case domain.RowStatusProcessing:
			counts.Processing = count
		case domain.RowStatusCompleted:
			counts.Completed = count
		case domain.RowStatusError:
			counts.Errored = count
		}
	}
	if rows.Err() != nil {
		return domain.StatusCounts{}, fmt.Errorf("iterate row counts: %w", rows.Err())
	}
	return counts, nil
}

// CancelJob reverts processing rows and the job record in one transaction so
// a poll can never observe a cancelled job with rows still processing.
func (r *PostgresJobsRepository) CancelJob(ctx context.Context, jobID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE job_rows
		SET status = 'pending', batch_number = 0, updated_at = now()
		WHERE job_id = $1 AND status = 'processing'
	`, jobID)
	if err != nil {
		return fmt.Errorf("reset processing rows: %w", err)
	}

	command, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'in_progress', error_message = '', updated_at = now()
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("revert job status: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) CreateSkill(ctx context.Context, skill *domain.Skill) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO skills (id, tenant_id, title, content, scope, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, skill.ID, skill.TenantID, skill.Title, skill.Content, skill.Scope, skill.CreatedAt, skill.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) ListSkills(
	ctx context.Context,
	tenantID string,
) ([]*domain.Skill, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, title, content, scope, created_at, updated_at
		FROM skills
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY title ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()
	return scanSkills(rows)
}

func (r *PostgresJobsRepository) GetSkillsByIDs(
	ctx context.Context,
	ids []string,
) ([]*domain.Skill, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, title, content, scope, created_at, updated_at
		FROM skills
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get skills: %w", err)
	}
	defer rows.Close()

	skills, err := scanSkills(rows)
	if err != nil {
		return nil, err
	}
	if len(skills) != len(ids) {
		return nil, ErrNotFound
	}
	return skills, nil
}

func scanSkills(rows pgx.Rows) ([]*domain.Skill, error) {
	skills := make([]*domain.Skill, 0)
	for rows.Next() {
		skill := domain.Skill{}
		if err := rows.Scan(
			&skill.ID,
			&skill.TenantID,
			&skill.Title,
			&skill.Content,
			&skill.Scope,
			&skill.CreatedAt,
			&skill.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, &skill)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate skills: %w", rows.Err())
	}
	return skills, nil
}

func (r *PostgresJobsRepository) FindStaleProcessingJobs(
	ctx context.Context,
	cutoff time.Time,
) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM jobs
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job id: %w", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", rows.Err())
	}
	return ids, nil
}
