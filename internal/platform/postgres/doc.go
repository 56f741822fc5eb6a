// Package postgres provides the PostgreSQL implementation of the task record
// store defined in the internal/store package. It handles query execution,
// transactional read-modify-write updates and the mapping between domain
// tasks and database rows.
package postgres
