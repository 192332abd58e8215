package mysql

import "fmt"

const failedColumns = "feed_uri, event_id, event_title, event_content, error_message, failed_at, retries"

type queries struct {
	upsertFailed string
	getFailed    string
	oldestFailed string
	countFailed  string
	removeFailed string
	getMarker    string
	upsertMarker string
}

func newQueries(failedTable, markersTable string) queries {
	upsertFailed := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?) AS new "+
			"ON DUPLICATE KEY UPDATE event_title = new.event_title, event_content = new.event_content, "+
			"error_message = new.error_message, failed_at = new.failed_at, retries = new.retries",
		failedTable,
		failedColumns,
	)
	upsertMarker := fmt.Sprintf(
		"INSERT INTO %s (feed_uri, consumer_id, last_entry_id, last_page_uri, last_position, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?) AS new "+
			"ON DUPLICATE KEY UPDATE last_entry_id = new.last_entry_id, last_page_uri = new.last_page_uri, "+
			"last_position = new.last_position, updated_at = new.updated_at",
		markersTable,
	)

	return queries{
		upsertFailed: upsertFailed,
		getFailed:    fmt.Sprintf("SELECT %s FROM %s WHERE feed_uri = ? AND event_id = ?", failedColumns, failedTable),
		oldestFailed: fmt.Sprintf("SELECT %s FROM %s WHERE feed_uri = ? ORDER BY failed_at ASC, id ASC LIMIT ?", failedColumns, failedTable),
		countFailed:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE feed_uri = ?", failedTable),
		removeFailed: fmt.Sprintf("DELETE FROM %s WHERE feed_uri = ? AND event_id = ?", failedTable),
		getMarker: fmt.Sprintf(
			"SELECT last_entry_id, last_page_uri, last_position, updated_at FROM %s WHERE feed_uri = ? AND consumer_id = ?",
			markersTable,
		),
		upsertMarker: upsertMarker,
	}
}
