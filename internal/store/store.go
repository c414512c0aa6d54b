// Package store is the durable persistence layer: SQLite via jmoiron/sqlx
// and mattn/go-sqlite3, exposing the exact operations the design calls for
// — including pop_next as a single atomic UPDATE ... RETURNING statement,
// never a SELECT-then-UPDATE.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/semantica/task-engine/internal/apperr"
	"github.com/semantica/task-engine/pkg/domain"
)

// dbHandle is the subset of *sqlx.DB / *sqlx.Tx used by the migration
// runner, satisfied by *sqlx.DB directly since it embeds *sql.DB.
type dbHandle interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Begin() (*sql.Tx, error)
}

// Store wraps the database handle and exposes the job/subject operations.
type Store struct {
	db *sqlx.DB
}

// Config controls connection-pool sizing per the persisted state layout in
// the external interfaces section: pool <= 20 connections, busy timeout 5s.
type Config struct {
	Path        string
	PoolSize    int
	BusyTimeout int // milliseconds
}

func Open(cfg Config) (*Store, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 20
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate", cfg.Path, cfg.BusyTimeout)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "open database", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.Db, "run migrations", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DBSizeBytes reports the on-disk size of the SQLite file, used by
// admin.stats.v1 and maintenance's size threshold check.
func (s *Store) DBSizeBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, apperr.Wrap(apperr.Db, "page_count", err)
	}
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, apperr.Wrap(apperr.Db, "page_size", err)
	}
	return pageCount * pageSize, nil
}

// Vacuum performs a defragmenting rewrite and returns the MB reclaimed.
func (s *Store) Vacuum() (float64, error) {
	before, err := s.DBSizeBytes()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return 0, apperr.Wrap(apperr.Db, "vacuum", err)
	}
	after, err := s.DBSizeBytes()
	if err != nil {
		return 0, err
	}
	reclaimed := float64(before-after) / (1024 * 1024)
	if reclaimed < 0 {
		reclaimed = 0
	}
	return reclaimed, nil
}

const jobColumns = `
	id, queue, job_type, subject_key, generation,
	priority, state, created_at, started_at, finished_at,
	payload, log_path, execution_mode, pid, env_vars,
	attempts, max_attempts, backoff_factor, deadline, ttl_ms,
	schedule_at, wait_for_idle, require_charging, wait_for_event,
	trace_id, user_tag, parent_job_id, chain_group_id, result_summary, artifacts
`

// row mirrors the jobs table exactly (bool columns stored as 0/1) so
// scanning never depends on driver-specific bool conversion behavior.
type row struct {
	ID              string         `db:"id"`
	Queue           string         `db:"queue"`
	JobType         string         `db:"job_type"`
	SubjectKey      string         `db:"subject_key"`
	Generation      int64          `db:"generation"`
	Priority        int            `db:"priority"`
	State           string         `db:"state"`
	CreatedAt       int64          `db:"created_at"`
	StartedAt       sql.NullInt64  `db:"started_at"`
	FinishedAt      sql.NullInt64  `db:"finished_at"`
	Payload         string         `db:"payload"`
	LogPath         sql.NullString `db:"log_path"`
	ExecutionMode   string         `db:"execution_mode"`
	PID             sql.NullInt64  `db:"pid"`
	EnvVars         sql.NullString `db:"env_vars"`
	Attempts        int            `db:"attempts"`
	MaxAttempts     int            `db:"max_attempts"`
	BackoffFactor   float64        `db:"backoff_factor"`
	Deadline        sql.NullInt64  `db:"deadline"`
	TTLMs           sql.NullInt64  `db:"ttl_ms"`
	ScheduleAt      sql.NullInt64  `db:"schedule_at"`
	WaitForIdle     int            `db:"wait_for_idle"`
	RequireCharging int            `db:"require_charging"`
	WaitForEvent    sql.NullString `db:"wait_for_event"`
	TraceID         sql.NullString `db:"trace_id"`
	UserTag         sql.NullString `db:"user_tag"`
	ParentJobID     sql.NullString `db:"parent_job_id"`
	ChainGroupID    sql.NullString `db:"chain_group_id"`
	ResultSummary   sql.NullString `db:"result_summary"`
	Artifacts       sql.NullString `db:"artifacts"`
}

func (r row) toJob() *domain.Job {
	j := &domain.Job{
		ID:              r.ID,
		Queue:           r.Queue,
		JobType:         r.JobType,
		SubjectKey:      r.SubjectKey,
		Generation:      r.Generation,
		Priority:        r.Priority,
		State:           domain.State(r.State),
		CreatedAt:       r.CreatedAt,
		Payload:         r.Payload,
		ExecutionMode:   domain.ExecutionMode(r.ExecutionMode),
		Attempts:        r.Attempts,
		MaxAttempts:     r.MaxAttempts,
		BackoffFactor:   r.BackoffFactor,
		WaitForIdle:     r.WaitForIdle != 0,
		RequireCharging: r.RequireCharging != 0,
	}
	if r.StartedAt.Valid {
		v := r.StartedAt.Int64
		j.StartedAt = &v
	}
	if r.FinishedAt.Valid {
		v := r.FinishedAt.Int64
		j.FinishedAt = &v
	}
	if r.LogPath.Valid {
		v := r.LogPath.String
		j.LogPath = &v
	}
	if r.PID.Valid {
		v := int(r.PID.Int64)
		j.PID = &v
	}
	if r.EnvVars.Valid {
		v := r.EnvVars.String
		j.EnvVars = &v
	}
	if r.Deadline.Valid {
		v := r.Deadline.Int64
		j.Deadline = &v
	}
	if r.TTLMs.Valid {
		v := r.TTLMs.Int64
		j.TTLMs = &v
	}
	if r.ScheduleAt.Valid {
		v := r.ScheduleAt.Int64
		j.ScheduleAt = &v
	}
	if r.WaitForEvent.Valid {
		v := r.WaitForEvent.String
		j.WaitForEvent = &v
	}
	if r.TraceID.Valid {
		v := r.TraceID.String
		j.TraceID = &v
	}
	if r.UserTag.Valid {
		v := r.UserTag.String
		j.UserTag = &v
	}
	if r.ParentJobID.Valid {
		v := r.ParentJobID.String
		j.ParentJobID = &v
	}
	if r.ChainGroupID.Valid {
		v := r.ChainGroupID.String
		j.ChainGroupID = &v
	}
	if r.ResultSummary.Valid {
		v := r.ResultSummary.String
		j.ResultSummary = &v
	}
	if r.Artifacts.Valid {
		v := r.Artifacts.String
		j.Artifacts = &v
	}
	return j
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Insert persists a new job row. Fails with apperr.Db on a uniqueness or
// integrity violation.
func (s *Store) Insert(job *domain.Job) error {
	return insertJob(s.db, job)
}

func insertJob(ex interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}, job *domain.Job) error {
	_, err := ex.Exec(`
		INSERT INTO jobs (`+jobColumns+`) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?
		)`,
		job.ID, job.Queue, job.JobType, job.SubjectKey, job.Generation,
		job.Priority, string(job.State), job.CreatedAt, nullInt64(job.StartedAt), nullInt64(job.FinishedAt),
		job.Payload, nullString(job.LogPath), string(job.ExecutionMode), nullIntPtr(job.PID), nullString(job.EnvVars),
		job.Attempts, job.MaxAttempts, job.BackoffFactor, nullInt64(job.Deadline), nullInt64(job.TTLMs),
		nullInt64(job.ScheduleAt), boolToInt(job.WaitForIdle), boolToInt(job.RequireCharging), nullString(job.WaitForEvent),
		nullString(job.TraceID), nullString(job.UserTag), nullString(job.ParentJobID), nullString(job.ChainGroupID), nullString(job.ResultSummary), nullString(job.Artifacts),
	)
	if err != nil {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) {
			return apperr.Wrap(apperr.Db, fmt.Sprintf("insert job (sqlite code %v)", sqErr.Code), err)
		}
		return apperr.Wrap(apperr.Db, "insert job", err)
	}
	return nil
}

// FindByID returns the job or (nil, nil) if absent.
func (s *Store) FindByID(id string) (*domain.Job, error) {
	var r row
	err := s.db.Get(&r, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "find job by id", err)
	}
	return r.toJob(), nil
}

// Update performs a full overwrite of a job's mutable fields. Fails with
// apperr.NotFound on row absence.
func (s *Store) Update(job *domain.Job) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET
			priority=?, state=?, started_at=?, finished_at=?,
			payload=?, log_path=?, execution_mode=?, pid=?, env_vars=?,
			attempts=?, max_attempts=?, backoff_factor=?, deadline=?, ttl_ms=?,
			schedule_at=?, wait_for_idle=?, require_charging=?, wait_for_event=?,
			trace_id=?, user_tag=?, parent_job_id=?, chain_group_id=?, result_summary=?, artifacts=?
		WHERE id = ?`,
		job.Priority, string(job.State), nullInt64(job.StartedAt), nullInt64(job.FinishedAt),
		job.Payload, nullString(job.LogPath), string(job.ExecutionMode), nullIntPtr(job.PID), nullString(job.EnvVars),
		job.Attempts, job.MaxAttempts, job.BackoffFactor, nullInt64(job.Deadline), nullInt64(job.TTLMs),
		nullInt64(job.ScheduleAt), boolToInt(job.WaitForIdle), boolToInt(job.RequireCharging), nullString(job.WaitForEvent),
		nullString(job.TraceID), nullString(job.UserTag), nullString(job.ParentJobID), nullString(job.ChainGroupID), nullString(job.ResultSummary), nullString(job.Artifacts),
		job.ID,
	)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFoundf("job %s", job.ID)
	}
	return nil
}

// UpdateState performs a partial, CAS-style update: it refuses to change a
// job already in a terminal state. Returns apperr.Conflict if terminal,
// apperr.NotFound if absent.
func (s *Store) UpdateState(id string, state domain.State, finishedAtMs *int64) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = ?, finished_at = ?
		WHERE id = ? AND state NOT IN ('DONE', 'FAILED', 'CANCELLED', 'SUPERSEDED')`,
		string(state), nullInt64(finishedAtMs), id,
	)
	if err != nil {
		return apperr.Wrap(apperr.Db, "update job state", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	existing, err := s.FindByID(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperr.NotFoundf("job %s", id)
	}
	return apperr.Conflictf("job %s is already in terminal state %s", id, existing.State)
}

// PopNext atomically selects and dispatches the next eligible job for queue:
// a single UPDATE ... RETURNING statement — no SELECT-then-UPDATE. The
// eligibility filter includes the pop-time generation check (second
// supersede layer): only rows whose generation equals their subject's
// current latest_generation are eligible, so dormant superseded rows left
// by aborted or racing enqueues are skipped even before maintenance or a
// future enqueue cleans them up.
func (s *Store) PopNext(queue string, nowMs int64) (*domain.Job, error) {
	var r row
	err := s.db.Get(&r, `
		UPDATE jobs
		SET state = 'RUNNING', started_at = ?
		WHERE id = (
			SELECT j.id FROM jobs j
			WHERE j.queue = ?
			  AND j.state = 'QUEUED'
			  AND j.generation = (
				SELECT latest_generation FROM subjects WHERE subject_key = j.subject_key
			  )
			ORDER BY j.priority DESC, j.created_at ASC, j.id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		nowMs, queue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "pop next job", err)
	}
	return r.toJob(), nil
}

// CountByState counts jobs in queue with the given state.
func (s *Store) CountByState(queue string, state domain.State) (int64, error) {
	var n int64
	err := s.db.Get(&n, `SELECT COUNT(*) FROM jobs WHERE queue = ? AND state = ?`, queue, string(state))
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "count by state", err)
	}
	return n, nil
}

// CountByStateAll counts jobs with the given state across all queues, used
// by admin.stats.v1.
func (s *Store) CountByStateAll(state domain.State) (int64, error) {
	var n int64
	err := s.db.Get(&n, `SELECT COUNT(*) FROM jobs WHERE state = ?`, string(state))
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "count by state", err)
	}
	return n, nil
}

// TotalJobs returns the total row count, used by admin.stats.v1 and the
// maintenance fragmentation heuristic.
func (s *Store) TotalJobs() (int64, error) {
	var n int64
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM jobs`); err != nil {
		return 0, apperr.Wrap(apperr.Db, "count total jobs", err)
	}
	return n, nil
}

// FindByState returns all jobs currently in state, across all queues —
// used by recovery (RUNNING).
func (s *Store) FindByState(state domain.State) ([]*domain.Job, error) {
	var rows []row
	if err := s.db.Select(&rows, `SELECT `+jobColumns+` FROM jobs WHERE state = ?`, string(state)); err != nil {
		return nil, apperr.Wrap(apperr.Db, "find by state", err)
	}
	jobs := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// FindLiveProcesses returns non-RUNNING jobs that still hold a pid, for the
// zombie sweep.
func (s *Store) FindLiveProcesses() ([]*domain.Job, error) {
	var rows []row
	if err := s.db.Select(&rows, `SELECT `+jobColumns+` FROM jobs WHERE state != 'RUNNING' AND pid IS NOT NULL`); err != nil {
		return nil, apperr.Wrap(apperr.Db, "find live processes", err)
	}
	jobs := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// GetLatestGeneration returns subject_key's counter, lazily creating it at 0
// if absent.
func (s *Store) GetLatestGeneration(subjectKey string) (int64, error) {
	return getLatestGeneration(s.db, subjectKey)
}

func getLatestGeneration(ex interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Get(dest interface{}, query string, args ...interface{}) error
}, subjectKey string) (int64, error) {
	var gen int64
	err := ex.Get(&gen, `SELECT latest_generation FROM subjects WHERE subject_key = ?`, subjectKey)
	if errors.Is(err, sql.ErrNoRows) {
		if _, insErr := ex.Exec(`INSERT INTO subjects (subject_key, latest_generation) VALUES (?, 0)`, subjectKey); insErr != nil {
			return 0, apperr.Wrap(apperr.Db, "create subject counter", insErr)
		}
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "get latest generation", err)
	}
	return gen, nil
}

// MarkSuperseded sets SUPERSEDED + finished_at for all QUEUED rows of
// subjectKey with generation < belowGeneration, and advances the subject's
// counter to belowGeneration even if no rows were changed. Returns the
// number of job rows changed.
func (s *Store) MarkSuperseded(subjectKey string, belowGeneration int64, nowMs int64) (int64, error) {
	return markSuperseded(s.db, subjectKey, belowGeneration, nowMs)
}

func markSuperseded(ex interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}, subjectKey string, belowGeneration int64, nowMs int64) (int64, error) {
	res, err := ex.Exec(`
		UPDATE jobs SET state = 'SUPERSEDED', finished_at = ?
		WHERE subject_key = ? AND generation < ? AND state = 'QUEUED'`,
		nowMs, subjectKey, belowGeneration,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "mark superseded", err)
	}
	n, _ := res.RowsAffected()

	if _, err := ex.Exec(`
		INSERT INTO subjects (subject_key, latest_generation) VALUES (?, ?)
		ON CONFLICT(subject_key) DO UPDATE SET latest_generation = excluded.latest_generation`,
		subjectKey, belowGeneration,
	); err != nil {
		return 0, apperr.Wrap(apperr.Db, "advance subject counter", err)
	}
	return n, nil
}

// DeleteTerminalOlderThan deletes DONE/FAILED/SUPERSEDED jobs with
// finished_at older than cutoffMs, returning the count deleted.
func (s *Store) DeleteTerminalOlderThan(cutoffMs int64) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE state IN ('DONE', 'FAILED', 'SUPERSEDED')
		  AND finished_at IS NOT NULL AND finished_at < ?`,
		cutoffMs,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.Db, "gc terminal jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ArtifactsOlderThan returns the artifacts strings (as stored, opaque to the
// core) of terminal jobs whose finished_at predates cutoffMs, for the
// maintenance artifact-cleanup step.
func (s *Store) ArtifactsOlderThan(cutoffMs int64) ([]string, error) {
	var vals []sql.NullString
	err := s.db.Select(&vals, `
		SELECT artifacts FROM jobs
		WHERE state IN ('DONE', 'FAILED', 'SUPERSEDED')
		  AND finished_at IS NOT NULL AND finished_at < ?
		  AND artifacts IS NOT NULL`,
		cutoffMs,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "list artifacts", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, nil
}
