/*
Package postgres opens GORM connections to PostgreSQL for the relational
storage backend.

Open builds the DSN from Config, connects through gorm.io/driver/postgres
and sizes the connection pool (max idle, max open, lifetime). GORM's own
logger is set from Config.LogLevel ("silent", "error", "warn" or "info") so
SQL tracing can be turned on without touching trainyard's log level.

Schema migration is done by storage.NewGormStore, not here.
*/
package postgres
