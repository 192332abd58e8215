// Command atomfeed-consumer reads Atom event feeds and forwards their entries
// to Kafka or the log, recording read markers and failed events in a database.
//
// Configuration comes from the environment, optionally seeded from a .env
// file:
//
//	ATOMFEED_DB_DRIVER   mysql, postgres or sqlite (default sqlite)
//	ATOMFEED_DB_DSN      driver DSN; a file path for sqlite
//	ATOMFEED_FEEDS       comma-separated feed URIs
//	ATOMFEED_CONSUMER_ID marker owner (default atomfeed-consumer)
//	KAFKA_BROKERS        comma-separated brokers for the kafka sink
//	KAFKA_TOPIC          destination topic
//	LOG_LEVEL            debug, info, warn or error
//
// MySQL DSNs must set parseTime=true.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
