package workers

import "partscout/models"

// LogFunc writes to the scrape log table.
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default).
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}
