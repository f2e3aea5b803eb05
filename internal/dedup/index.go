// Package dedup rejects candidates that repeat a stored or already-accepted product.
package dedup

import (
	"strings"

	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/validate"
)

// Index maps identity keys of persisted products to their IDs.
type Index struct {
	names      map[string]int64
	composites map[string]int64
	urls       map[string]int64
}

// NewIndex builds an index over products.
func NewIndex(products []database.Product) *Index {
	idx := &Index{
		names:      make(map[string]int64, len(products)),
		composites: make(map[string]int64, len(products)),
		urls:       make(map[string]int64, len(products)),
	}
	for i := range products {
		p := &products[i]
		idx.Add(p.ID, p.Name, p.Category, p.Subcategory, p.ReferenceURLs)
	}
	return idx
}

// Add registers the identity keys of one product.
func (idx *Index) Add(id int64, name, category, subcategory string, refs []string) {
	idx.names[database.NameKey(name)] = id
	idx.composites[CompositeKey(category, subcategory, name)] = id
	for _, u := range refs {
		if norm, err := validate.NormalizeURL(u); err == nil {
			idx.urls[norm] = id
		}
	}
}

// Len returns the number of indexed product names.
func (idx *Index) Len() int {
	return len(idx.names)
}

// ByName returns the ID of the product with this name, case-insensitively.
func (idx *Index) ByName(name string) (int64, bool) {
	id, ok := idx.names[database.NameKey(name)]
	return id, ok
}

// ByComposite returns the ID of a product sharing the category:subcategory:firstword key.
func (idx *Index) ByComposite(category, subcategory, name string) (int64, bool) {
	id, ok := idx.composites[CompositeKey(category, subcategory, name)]
	return id, ok
}

// ByURL returns the ID of a product carrying this reference URL.
func (idx *Index) ByURL(raw string) (int64, bool) {
	norm, err := validate.NormalizeURL(raw)
	if err != nil {
		return 0, false
	}
	id, ok := idx.urls[norm]
	return id, ok
}

// CompositeKey is the lowercased "category:subcategory:firstWordOfName" key.
func CompositeKey(category, subcategory, name string) string {
	first := ""
	if f := strings.Fields(name); len(f) > 0 {
		first = f[0]
	}
	return strings.ToLower(strings.TrimSpace(category) + ":" + strings.TrimSpace(subcategory) + ":" + first)
}
