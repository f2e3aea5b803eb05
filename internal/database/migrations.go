package database

import (
	"database/sql"
	"strings"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, d Dialect) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx, d Dialect) error {
			return execAll(tx, dialectDDL(d, initialSchema))
		},
	},
	{
		Version:     2,
		Description: "child table indexes",
		Up: func(tx *sql.Tx, d Dialect) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_trend_points_product ON trend_points(product_id, date)`,
				`CREATE INDEX IF NOT EXISTS idx_regions_product ON regions(product_id)`,
				`CREATE INDEX IF NOT EXISTS idx_regions_country ON regions(country)`,
				`CREATE INDEX IF NOT EXISTS idx_videos_product ON videos(product_id)`,
			})
		},
	},
}

// initialSchema is written for SQLite; dialectDDL adapts it for PostgreSQL.
var initialSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    name_key TEXT UNIQUE NOT NULL,
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    price_low REAL NOT NULL,
    price_high REAL NOT NULL,
    trend_score INTEGER NOT NULL,
    engagement_rate INTEGER NOT NULL,
    sales_velocity INTEGER NOT NULL,
    search_volume INTEGER NOT NULL,
    geographic_spread INTEGER NOT NULL,
    source_platform TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    reference_urls TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS trend_points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    date TEXT NOT NULL,
    engagement_value INTEGER NOT NULL,
    sales_value INTEGER NOT NULL,
    search_value INTEGER NOT NULL,
    UNIQUE (product_id, date)
)`,
	`CREATE TABLE IF NOT EXISTS regions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    country TEXT NOT NULL,
    percentage INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS videos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    platform TEXT NOT NULL,
    views INTEGER NOT NULL,
    upload_date TEXT NOT NULL,
    thumbnail_url TEXT NOT NULL DEFAULT '',
    video_url TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
	`CREATE INDEX IF NOT EXISTS idx_products_trend_score ON products(trend_score)`,
	`CREATE INDEX IF NOT EXISTS idx_products_created_at ON products(created_at)`,
}

func dialectDDL(d Dialect, stmts []string) []string {
	if d != Postgres {
		return stmts
	}
	r := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"product_id INTEGER", "product_id BIGINT",
		"views INTEGER", "views BIGINT",
		" REAL ", " DOUBLE PRECISION ",
	)
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = r.Replace(s)
	}
	return out
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
