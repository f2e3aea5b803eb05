package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const timeFormat = "2006-01-02T15:04:05Z"

const productColumns = `id, name, category, subcategory, description, price_low, price_high,
	trend_score, engagement_rate, sales_velocity, search_volume, geographic_spread,
	source_platform, image_url, reference_urls, created_at, updated_at`

// NameKey is the case-insensitive identity of a product name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// querier is the subset of *sql.DB and *sql.Tx used by writes that may run in a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateProduct inserts a product and returns its ID, or 0 if the name is already taken.
func (db *DB) CreateProduct(ctx context.Context, p *Product) (int64, error) {
	return db.insertProduct(ctx, db.conn, p)
}

// SaveProduct inserts a product together with its trend, region and video rows
// in one transaction. It returns 0 if the name is already taken. When any write
// fails nothing is stored.
func (db *DB) SaveProduct(ctx context.Context, p *Product, data ProductData) (int64, error) {
	var id int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.insertProduct(ctx, tx, p)
		if err != nil || id == 0 {
			return err
		}
		if err := db.appendTrendPoints(ctx, tx, id, data.Trends); err != nil {
			return err
		}
		if err := db.appendRegions(ctx, tx, id, data.Regions); err != nil {
			return err
		}
		return db.appendVideos(ctx, tx, id, data.Videos)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) insertProduct(ctx context.Context, q querier, p *Product) (int64, error) {
	refs, err := json.Marshal(nonNil(p.ReferenceURLs))
	if err != nil {
		return 0, fmt.Errorf("encoding reference urls: %w", err)
	}
	now := p.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	ts := now.UTC().Format(timeFormat)

	var id int64
	err = q.QueryRowContext(ctx, db.rebind(`INSERT INTO products (name, name_key, category, subcategory, description, price_low, price_high,
		trend_score, engagement_rate, sales_velocity, search_volume, geographic_spread,
		source_platform, image_url, reference_urls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name_key) DO NOTHING
		RETURNING id`),
		p.Name, NameKey(p.Name), p.Category, p.Subcategory, p.Description, p.PriceLow, p.PriceHigh,
		p.TrendScore, p.EngagementRate, p.SalesVelocity, p.SearchVolume, p.GeographicSpread,
		p.SourcePlatform, p.ImageURL, string(refs), ts, ts,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inserting product %q: %w", p.Name, err)
	}
	return id, nil
}

// RefreshProductMetrics overwrites a product's metrics and bumps updated_at.
func (db *DB) RefreshProductMetrics(ctx context.Context, id int64, m ProductMetrics, now time.Time) error {
	_, err := db.exec(ctx,
		`UPDATE products SET trend_score = ?, engagement_rate = ?, sales_velocity = ?,
		search_volume = ?, geographic_spread = ?, updated_at = ? WHERE id = ?`,
		m.TrendScore, m.EngagementRate, m.SalesVelocity, m.SearchVolume, m.GeographicSpread,
		now.UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("refreshing product %d: %w", id, err)
	}
	return nil
}

// DeleteProduct removes a product and, through cascading keys, its child rows.
func (db *DB) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res, err := db.exec(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting product %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountProducts returns the number of stored products.
func (db *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return n, nil
}

// ListProducts returns every product ordered by ID.
func (db *DB) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := db.query(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

// GetProduct returns a single product by ID, or nil if it does not exist.
func (db *DB) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(db.queryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProductByName looks a product up case-insensitively, returning nil if absent.
func (db *DB) GetProductByName(ctx context.Context, name string) (*Product, error) {
	p, err := scanProduct(db.queryRow(ctx, "SELECT "+productColumns+" FROM products WHERE name_key = ?", NameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

var sortColumns = map[string]string{
	"trend_score":     "trend_score",
	"created_at":      "created_at",
	"name":            "name",
	"category":        "category",
	"engagement_rate": "engagement_rate",
	"sales_velocity":  "sales_velocity",
	"search_volume":   "search_volume",
}

// ListProductsPage returns one filtered, sorted page of products.
func (db *DB) ListProductsPage(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	where := " WHERE 1=1"
	var args []any
	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.MinScore > 0 {
		where += " AND trend_score >= ?"
		args = append(args, f.MinScore)
	}
	if f.Region != "" {
		where += " AND EXISTS (SELECT 1 FROM regions r WHERE r.product_id = products.id AND r.country = ?)"
		args = append(args, f.Region)
	}

	var total int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "trend_score"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "ASC"
	}

	q := "SELECT " + productColumns + " FROM products" + where +
		fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT ? OFFSET ?", col, dir, dir)
	rows, err := db.query(ctx, q, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()
	items, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Product{}
	}

	return &ProductPage{
		Items: items,
		Total: total,
		Page:  f.Page,
		Limit: f.Limit,
		Pages: (total + f.Limit - 1) / f.Limit,
	}, nil
}

// Categories returns the distinct product categories in alphabetical order.
func (db *DB) Categories(ctx context.Context) ([]string, error) {
	rows, err := db.query(ctx, "SELECT DISTINCT category FROM products ORDER BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DashboardSummary computes headline numbers as of now.
func (db *DB) DashboardSummary(ctx context.Context, now time.Time) (*DashboardSummary, error) {
	var s DashboardSummary
	var avg float64
	err := db.queryRow(ctx,
		`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN trend_score >= 80 THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(trend_score), 0),
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM products`,
		now.Add(-24*time.Hour).UTC().Format(timeFormat),
	).Scan(&s.TotalProducts, &s.TrendingProducts, &avg, &s.NewProducts24h)
	if err != nil {
		return nil, fmt.Errorf("summarizing products: %w", err)
	}
	s.AvgTrendScore = float64(int(avg*10+0.5)) / 10

	var category string
	err = db.queryRow(ctx,
		`SELECT category FROM products GROUP BY category
		ORDER BY COUNT(*) DESC, category ASC LIMIT 1`,
	).Scan(&category)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("finding popular category: %w", err)
	default:
		s.MostPopularCategory = &category
	}
	return &s, nil
}

// GetStats returns row counts for every table.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	for _, c := range []struct {
		table string
		dest  *int
	}{
		{"products", &s.Products},
		{"trend_points", &s.TrendPoints},
		{"regions", &s.Regions},
		{"videos", &s.Videos},
	} {
		if err := db.queryRow(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func scanProduct(row scanner) (*Product, error) {
	var p Product
	var refs, created, updated string
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Subcategory, &p.Description,
		&p.PriceLow, &p.PriceHigh, &p.TrendScore, &p.EngagementRate, &p.SalesVelocity,
		&p.SearchVolume, &p.GeographicSpread, &p.SourcePlatform, &p.ImageURL,
		&refs, &created, &updated); err != nil {
		return nil, err
	}
	if refs != "" {
		if err := json.Unmarshal([]byte(refs), &p.ReferenceURLs); err != nil {
			return nil, fmt.Errorf("decoding reference urls for product %d: %w", p.ID, err)
		}
	}
	p.CreatedAt, _ = time.Parse(timeFormat, created)
	p.UpdatedAt, _ = time.Parse(timeFormat, updated)
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
