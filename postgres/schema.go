package postgres

import "fmt"

const failedEventsTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	feed_uri TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_title TEXT NOT NULL,
	event_content TEXT NOT NULL,
	error_message VARCHAR(4000) NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL,
	retries INT NOT NULL DEFAULT 0,
	UNIQUE (feed_uri, event_id)
);
CREATE INDEX IF NOT EXISTS %[2]s_feed_failed_at_idx ON %[1]s (feed_uri, failed_at, id);`

const markersTemplate = `CREATE TABLE IF NOT EXISTS %s (
	feed_uri TEXT NOT NULL,
	consumer_id TEXT NOT NULL,
	last_entry_id TEXT NOT NULL,
	last_page_uri TEXT NOT NULL,
	last_position INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (feed_uri, consumer_id)
);`

// Schema returns the DDL statements creating the failed event and marker tables.
func Schema(opts ...Option) ([]string, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	failed, err := sanitizeTableName(cfg.FailedEventsTable)
	if err != nil {
		return nil, err
	}
	markers, err := sanitizeTableName(cfg.MarkersTable)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(failedEventsTemplate, failed, indexPrefix(failed)),
		fmt.Sprintf(markersTemplate, markers),
	}, nil
}

// indexPrefix drops the schema qualifier; index names live in the table's schema.
func indexPrefix(table string) string {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i] == '.' {
			return table[i+1:]
		}
	}

	return table
}
