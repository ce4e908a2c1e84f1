package postgres

const schemaSQL = `
-- Canonical person records
-- One row per (tenant, lower(email)); the email is write-once and names
-- are enrich-only (see PersonStorage.UpsertPerson)
CREATE TABLE IF NOT EXISTS persons (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'unknown',
	verified_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_persons_tenant_email ON persons(tenant_id, lower(email));
CREATE INDEX IF NOT EXISTS idx_persons_tenant_created ON persons(tenant_id, created_at DESC);

-- Additive person/company history
-- Insert-or-ignore per (tenant, person, lower(company_name)); rows are
-- never updated so older sightings survive newer ones
CREATE TABLE IF NOT EXISTS affiliations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
	company_name TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_affiliations_identity ON affiliations(tenant_id, person_id, lower(company_name));
CREATE INDEX IF NOT EXISTS idx_affiliations_tenant ON affiliations(tenant_id);

-- Mining job lifecycle
CREATE TABLE IF NOT EXISTS mining_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	type TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	input BYTEA,
	miners JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT NOT NULL DEFAULT '',
	stats JSONB NOT NULL DEFAULT '{}',
	result_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created ON mining_jobs(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON mining_jobs(status, started_at);

-- Append-only job log stream
CREATE TABLE IF NOT EXISTS job_logs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	level TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, ts);

-- Merged contacts per job; analyst-editable, raw snapshot immutable
CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	sources TEXT NOT NULL DEFAULT '',
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	raw TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'new',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	imported_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_tenant_status ON results(tenant_id, status, created_at);

-- Durable mailbox-verification queue
-- The partial unique index is the idempotency guarantee: at most one
-- pending/processing task per (tenant, lower(email))
CREATE TABLE IF NOT EXISTS verification_tasks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL,
	person_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	result TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	claimed_at TIMESTAMPTZ,
	processed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_inflight
	ON verification_tasks(tenant_id, lower(email))
	WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_verification_claim ON verification_tasks(status, created_at);
`
