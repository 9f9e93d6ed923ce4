// Package stores provides persistent backends for the catalog cache.
// It includes a SQLite store with WAL mode and embedded migrations that
// keeps compiled catalogs across process restarts.
package stores
