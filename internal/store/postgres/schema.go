package postgres

import "context"

// bootstrap creates the tables and indexes the store needs, best-effort, the
// same way the teacher's NewPostgresSearch/NewPostgresVector/NewPostgresGraph
// constructors do (ignore failures from a non-superuser connection; the
// extensions may already be installed by a migration step).
func (s *Store) bootstrap(ctx context.Context) {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS text_content (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			file_name TEXT, file_mime TEXT, file_object_id TEXT,
			url TEXT, url_title TEXT, url_screenshot_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_entity (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			entity_type TEXT NOT NULL,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(name,'') || ' ' || coalesce(description,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS knowledge_entity_ts_idx ON knowledge_entity USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS knowledge_entity_source_idx ON knowledge_entity (source_id)`,

		`CREATE TABLE IF NOT EXISTS entity_embedding (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL REFERENCES knowledge_entity(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			vector vector
		)`,

		`CREATE TABLE IF NOT EXISTS text_chunk (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			idx INT NOT NULL DEFAULT 0,
			text TEXT NOT NULL,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS text_chunk_ts_idx ON text_chunk USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS text_chunk_source_idx ON text_chunk (source_id)`,

		`CREATE TABLE IF NOT EXISTS chunk_embedding (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL REFERENCES text_chunk(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			vector vector
		)`,

		`CREATE TABLE IF NOT EXISTS relates_to (
			id TEXT PRIMARY KEY,
			in_id TEXT NOT NULL,
			out_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS relates_to_in_idx ON relates_to (in_id)`,
		`CREATE INDEX IF NOT EXISTS relates_to_out_idx ON relates_to (out_id)`,

		`CREATE TABLE IF NOT EXISTS ingestion_task (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			state TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			lease_expires_at TIMESTAMPTZ,
			worker_id TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ingestion_task_claim_idx ON ingestion_task (state, scheduled_at)`,

		`CREATE OR REPLACE FUNCTION ingestion_task_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('ingestion_task_changes', NEW.id);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS ingestion_task_notify_trigger ON ingestion_task`,
		`CREATE TRIGGER ingestion_task_notify_trigger
			AFTER INSERT OR UPDATE ON ingestion_task
			FOR EACH ROW EXECUTE FUNCTION ingestion_task_notify()`,
	}
	for _, stmt := range stmts {
		_, _ = s.pool.Exec(ctx, stmt)
	}
}
