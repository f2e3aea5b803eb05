package database

import "time"

// Product is a discovered, scored product.
type Product struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory"`
	Description      string    `json:"description,omitempty"`
	PriceLow         float64   `json:"price_low"`
	PriceHigh        float64   `json:"price_high"`
	TrendScore       int       `json:"trend_score"`
	EngagementRate   int       `json:"engagement_rate"`
	SalesVelocity    int       `json:"sales_velocity"`
	SearchVolume     int       `json:"search_volume"`
	GeographicSpread int       `json:"geographic_spread"`
	SourcePlatform   string    `json:"source_platform"`
	ImageURL         string    `json:"image_url"`
	ReferenceURLs    []string  `json:"reference_urls"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TrendPoint is one day of a product's trend series.
type TrendPoint struct {
	ProductID       int64  `json:"-"`
	Date            string `json:"date"` // YYYY-MM-DD
	EngagementValue int    `json:"engagement_value"`
	SalesValue      int    `json:"sales_value"`
	SearchValue     int    `json:"search_value"`
}

// Region is a product's share of interest in one country.
type Region struct {
	ProductID  int64  `json:"-"`
	Country    string `json:"country"`
	Percentage int    `json:"percentage"`
}

// Video is a social media post featuring a product.
type Video struct {
	ProductID    int64  `json:"-"`
	Title        string `json:"title"`
	Platform     string `json:"platform"`
	Views        int64  `json:"views"`
	UploadDate   string `json:"upload_date"` // YYYY-MM-DD
	ThumbnailURL string `json:"thumbnail_url"`
	VideoURL     string `json:"video_url"`
}

// ProductMetrics are the component metrics refreshed on rediscovery.
type ProductMetrics struct {
	TrendScore       int
	EngagementRate   int
	SalesVelocity    int
	SearchVolume     int
	GeographicSpread int
}

// ProductData is the synthesized child data stored with a new product.
type ProductData struct {
	Trends  []TrendPoint
	Regions []Region
	Videos  []Video
}

// ProductFilter selects a page of products.
type ProductFilter struct {
	Page      int
	Limit     int
	Category  string
	MinScore  int
	Region    string
	SortBy    string
	SortOrder string
}

// ProductPage is one page of a filtered product listing.
type ProductPage struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
	Pages int       `json:"pages"`
}

// DashboardSummary aggregates headline numbers for the dashboard.
type DashboardSummary struct {
	TotalProducts       int     `json:"total_products"`
	TrendingProducts    int     `json:"trending_products"`
	AvgTrendScore       float64 `json:"avg_trend_score"`
	MostPopularCategory *string `json:"most_popular_category"`
	NewProducts24h      int     `json:"new_products_24h"`
}

// Stats holds row counts per table.
type Stats struct {
	Products    int
	TrendPoints int
	Regions     int
	Videos      int
}
