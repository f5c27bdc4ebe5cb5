// Package db embeds the database migrations.
package db

import "embed"

// Migrations holds the golang-migrate source files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
