// Package db embeds the promotion schema applied at startup and by promo-seed.
package db

import _ "embed"

// Schema creates products, rules, deal counters and vouchers. Statements are
// idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
