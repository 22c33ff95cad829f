package store

// schemaVersion is the current schema version. Increment when adding migrations.
const schemaVersion = 2

// Tables are grouped by prefix into three tiers sharing one WAL database so a
// tick commits across all of them in a single transaction:
//
//	live_*     latest state only, overwritten every tick
//	rolling_*  fine-grained samples, purged after the retention window
//	summary_*  daily and weekly aggregates, kept forever
//
// Timestamps are unix nanoseconds; day columns hold the effective date.
var migrations = map[int]string{
	1: `
-- Key-value store for daemon metadata (schema version, aggregation watermark).
CREATE TABLE IF NOT EXISTS daemon_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS live_snapshot (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	ts   INTEGER NOT NULL,
	body TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS live_coefficients (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	alpha      REAL    NOT NULL,
	beta       REAL    NOT NULL,
	gamma      REAL    NOT NULL,
	last_error REAL    NOT NULL DEFAULT 0,
	updates    INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

-- Byte offsets of telemetry spool files, committed with the tick that
-- consumed them.
CREATE TABLE IF NOT EXISTS live_offsets (
	path   TEXT PRIMARY KEY,
	byte_offset INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rolling_snapshots (
	ts             INTEGER PRIMARY KEY,
	day            TEXT    NOT NULL,
	effective      REAL    NOT NULL,
	base           REAL    NOT NULL,
	boost          REAL    NOT NULL,
	debt           REAL    NOT NULL,
	efficiency     REAL    NOT NULL,
	cognitive_load REAL    NOT NULL,
	activity_state TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	tier           TEXT    NOT NULL,
	heart_rate     REAL    NOT NULL,
	hr_estimated   INTEGER NOT NULL,
	degraded       INTEGER NOT NULL DEFAULT 0,
	break_at       INTEGER NOT NULL DEFAULT 0,
	exhaustion_at  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rolling_snapshots_day ON rolling_snapshots(day);

CREATE TABLE IF NOT EXISTS rolling_activity (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	start_ts         INTEGER NOT NULL,
	end_ts           INTEGER NOT NULL,
	day              TEXT    NOT NULL,
	apm              REAL    NOT NULL,
	key_count        INTEGER NOT NULL,
	click_count      INTEGER NOT NULL,
	scroll_steps     INTEGER NOT NULL,
	backspace_count  INTEGER NOT NULL,
	pointer_distance REAL    NOT NULL,
	pointer_rate     REAL    NOT NULL,
	idle_ms          INTEGER NOT NULL,
	state            TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rolling_activity_end ON rolling_activity(end_ts);
CREATE INDEX IF NOT EXISTS idx_rolling_activity_day ON rolling_activity(day);

-- Measured and estimated samples share one stream. Features are only set on
-- estimated rows.
CREATE TABLE IF NOT EXISTS rolling_heartrate (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           INTEGER NOT NULL,
	day          TEXT    NOT NULL,
	bpm          REAL    NOT NULL,
	provenance   TEXT    NOT NULL CHECK (provenance IN ('measured', 'estimated')),
	apm          REAL,
	pointer_rate REAL,
	hours_awake  REAL,
	UNIQUE (ts, provenance)
);

CREATE INDEX IF NOT EXISTS idx_rolling_heartrate_day ON rolling_heartrate(day);

CREATE TRIGGER IF NOT EXISTS rolling_heartrate_append_only
BEFORE UPDATE ON rolling_heartrate
BEGIN
	SELECT RAISE(ABORT, 'heart-rate samples are append-only');
END;

CREATE TABLE IF NOT EXISTS summary_baselines (
	date            TEXT PRIMARY KEY,
	readiness       INTEGER NOT NULL,
	sleep_score     INTEGER NOT NULL,
	hrv_balance     REAL    NOT NULL,
	resting_hr      REAL    NOT NULL,
	primary_sleep_s INTEGER NOT NULL,
	wake_time       INTEGER NOT NULL,
	fetched_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_daily (
	date           TEXT PRIMARY KEY,
	ticks          INTEGER NOT NULL,
	mean_effective REAL    NOT NULL,
	min_effective  REAL    NOT NULL,
	max_effective  REAL    NOT NULL,
	mean_load      REAL    NOT NULL,
	active_minutes REAL    NOT NULL,
	mean_apm       REAL    NOT NULL,
	mean_hr        REAL    NOT NULL,
	measured_hr    INTEGER NOT NULL,
	estimated_hr   INTEGER NOT NULL,
	final_debt     REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_weekly (
	week           TEXT PRIMARY KEY,
	days           INTEGER NOT NULL,
	mean_effective REAL    NOT NULL,
	active_minutes REAL    NOT NULL,
	mean_hr        REAL    NOT NULL
);
`,

	2: `
-- Process-lock metadata mirrored from the lock file for readers.
CREATE TABLE IF NOT EXISTS live_process (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	pid       INTEGER NOT NULL,
	instance  TEXT    NOT NULL,
	started   INTEGER NOT NULL,
	heartbeat INTEGER NOT NULL
);
`,
}
