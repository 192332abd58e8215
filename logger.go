package atomfeed

// Logger receives diagnostics from fetchers, consumers and lockers.
// Args are key-value pairs such as "feed", uri or "event", id, ready for slog.
type Logger interface {
	// Debug reports fetched documents and processed batches.
	Debug(msg string, args ...any)
	// Info reports retry batch outcomes.
	Info(msg string, args ...any)
	// Warn reports recoverable problems such as an unreachable page or a failed event.
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger drops every diagnostic. It is the default when no logger is configured.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
