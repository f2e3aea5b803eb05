package database

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendTrendPoints stores a product's trend series in one transaction.
func (db *DB) AppendTrendPoints(ctx context.Context, productID int64, points []TrendPoint) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return db.appendTrendPoints(ctx, tx, productID, points)
	})
}

// AppendRegions stores a product's geographic distribution in one transaction.
func (db *DB) AppendRegions(ctx context.Context, productID int64, regions []Region) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return db.appendRegions(ctx, tx, productID, regions)
	})
}

// AppendVideos stores a product's media records in one transaction.
func (db *DB) AppendVideos(ctx context.Context, productID int64, videos []Video) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return db.appendVideos(ctx, tx, productID, videos)
	})
}

func (db *DB) appendTrendPoints(ctx context.Context, q querier, productID int64, points []TrendPoint) error {
	return db.appendRows(ctx, q, "trend points",
		`INSERT INTO trend_points (product_id, date, engagement_value, sales_value, search_value)
		VALUES (?, ?, ?, ?, ?)`,
		len(points), func(i int) []any {
			p := points[i]
			return []any{productID, p.Date, p.EngagementValue, p.SalesValue, p.SearchValue}
		})
}

func (db *DB) appendRegions(ctx context.Context, q querier, productID int64, regions []Region) error {
	return db.appendRows(ctx, q, "regions",
		"INSERT INTO regions (product_id, country, percentage) VALUES (?, ?, ?)",
		len(regions), func(i int) []any {
			return []any{productID, regions[i].Country, regions[i].Percentage}
		})
}

func (db *DB) appendVideos(ctx context.Context, q querier, productID int64, videos []Video) error {
	return db.appendRows(ctx, q, "videos",
		`INSERT INTO videos (product_id, title, platform, views, upload_date, thumbnail_url, video_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(videos), func(i int) []any {
			v := videos[i]
			return []any{productID, v.Title, v.Platform, v.Views, v.UploadDate, v.ThumbnailURL, v.VideoURL}
		})
}

func (db *DB) appendRows(ctx context.Context, q querier, what, stmt string, n int, args func(i int) []any) error {
	query := db.rebind(stmt)
	for i := 0; i < n; i++ {
		if _, err := q.ExecContext(ctx, query, args(i)...); err != nil {
			return fmt.Errorf("inserting %s: %w", what, err)
		}
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTrendPoints returns a product's trend series, oldest first.
func (db *DB) GetTrendPoints(ctx context.Context, productID int64) ([]TrendPoint, error) {
	rows, err := db.query(ctx,
		`SELECT product_id, date, engagement_value, sales_value, search_value
		FROM trend_points WHERE product_id = ? ORDER BY date ASC`, productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TrendPoint{}
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.ProductID, &p.Date, &p.EngagementValue, &p.SalesValue, &p.SearchValue); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetRegions returns a product's regions, largest share first.
func (db *DB) GetRegions(ctx context.Context, productID int64) ([]Region, error) {
	rows, err := db.query(ctx,
		`SELECT product_id, country, percentage FROM regions
		WHERE product_id = ? ORDER BY percentage DESC, country ASC`, productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regions := []Region{}
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.ProductID, &r.Country, &r.Percentage); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// GetVideos returns a product's videos, most viewed first.
func (db *DB) GetVideos(ctx context.Context, productID int64) ([]Video, error) {
	rows, err := db.query(ctx,
		`SELECT product_id, title, platform, views, upload_date, thumbnail_url, video_url
		FROM videos WHERE product_id = ? ORDER BY views DESC, id ASC`, productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []Video{}
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ProductID, &v.Title, &v.Platform, &v.Views, &v.UploadDate,
			&v.ThumbnailURL, &v.VideoURL); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
