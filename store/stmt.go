package store

import _ "embed"

// Package-level named SQL statements: one named Go string constant per
// statement, asserted against directly in tests.

//go:embed schema.sql
var schemaSQL string

const jobColumns = `
	id, human_id, name, description, tags, timezone, owner, kind,
	schedule_time, cron_expression, interval_ms, start_time, end_time,
	task_type, payload, priority, status, next_run_at, last_run_at,
	retry_count, execution_duration_ms, last_error, last_error_stack,
	last_result, paused_at, max_retries, retry_delay_ms,
	use_exponential_backoff, max_retry_delay_ms, retry_strategy,
	jitter_enabled, jitter_factor, locked_by, locked_at, lock_timeout_ms,
	depends_on_job_id, is_active, expire_at, created_at, updated_at`

const insertJobStmt = `
	INSERT INTO chronos_jobs (` + jobColumns + `)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19,
		$20, $21, $22, $23,
		$24, $25, $26, $27,
		$28, $29, $30,
		$31, $32, $33, $34, $35,
		$36, $37, $38, $39, $40
	)`

const selectJobByIDStmt = `SELECT ` + jobColumns + ` FROM chronos_jobs WHERE id = $1`

const incrCounterStmt = `
	INSERT INTO chronos_counters (name, value) VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE SET value = chronos_counters.value + 1
	RETURNING value`

const insertLogStmt = `
	INSERT INTO chronos_execution_logs (
		id, job_id, job_name, job_kind, task_type, scheduled_time,
		started_at, ended_at, duration_ms, status, retry_attempt, is_retry,
		error_message, error_stack, error_code, worker_id, host,
		payload_snapshot, result, metrics, metadata, expire_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22
	)`

const listLogsByJobStmt = `
	SELECT
		id, job_id, job_name, job_kind, task_type, scheduled_time,
		started_at, ended_at, duration_ms, status, retry_attempt, is_retry,
		error_message, error_stack, error_code, worker_id, host,
		payload_snapshot, result, metrics, metadata, expire_at
	FROM chronos_execution_logs
	WHERE job_id = $1
	ORDER BY started_at DESC
	LIMIT $2`

const purgeExpiredJobsStmt = `DELETE FROM chronos_jobs WHERE expire_at IS NOT NULL AND expire_at < $1`
const purgeExpiredLogsStmt = `DELETE FROM chronos_execution_logs WHERE expire_at < $1`

const statsByStatusStmt = `SELECT status, count(*) FROM chronos_jobs GROUP BY status`
const statsByTaskTypeStmt = `SELECT task_type, count(*) FROM chronos_jobs GROUP BY task_type`
const statsHourlyStmt = `
	SELECT extract(hour FROM started_at)::int AS h, count(*)
	FROM chronos_execution_logs
	WHERE started_at > $1
	GROUP BY h`
