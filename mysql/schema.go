package mysql

import "fmt"

const failedEventsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	feed_uri VARCHAR(255) NOT NULL,
	event_id VARCHAR(255) NOT NULL,
	event_title TEXT NOT NULL,
	event_content LONGTEXT NOT NULL,
	error_message VARCHAR(4000) NOT NULL,
	failed_at TIMESTAMP(6) NOT NULL,
	retries INT NOT NULL DEFAULT 0,
	PRIMARY KEY (id),
	UNIQUE KEY uq_feed_event (feed_uri, event_id),
	INDEX idx_feed_failed_at (feed_uri, failed_at, id)
);`

const markersTemplate = `CREATE TABLE IF NOT EXISTS %s (
	feed_uri VARCHAR(255) NOT NULL,
	consumer_id VARCHAR(255) NOT NULL,
	last_entry_id VARCHAR(255) NOT NULL,
	last_page_uri VARCHAR(2048) NOT NULL,
	last_position INT NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (feed_uri, consumer_id)
);`

// Schema returns the DDL statements creating the failed event and marker tables.
// Options other than table names are ignored.
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
		fmt.Sprintf(failedEventsTemplate, failed),
		fmt.Sprintf(markersTemplate, markers),
	}, nil
}
