// Package database opens the relational store shared by the queue,
// classification, and batch packages.
//
// SQLite (modernc, pure Go) is the default embedded store; PostgreSQL is
// reached through the pgx stdlib driver. Both dialects get their schema from
// embedded goose migrations applied on open. Stores write queries with ?
// placeholders and go through the helpers here, which rebind for the active
// dialect and retry statements that hit SQLite lock contention.
package database
