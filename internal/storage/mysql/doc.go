// Package mysql provides connection pooling and schema migration helpers for
// the MySQL-backed task store. It encapsulates DSN validation, pool tuning and
// the embedded SQL migration runner shared by all MySQL repositories.
package mysql
