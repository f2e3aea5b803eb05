package dedup

import (
	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/generate"
	"github.com/TobiSchelling/TrendDrop/internal/validate"
)

// Verdict is the outcome of checking one candidate.
type Verdict int

const (
	// Accept means the candidate is new.
	Accept Verdict = iota
	// Duplicate means the candidate repeats a stored product or an earlier candidate.
	Duplicate
	// Rediscovered means the candidate's name matches a stored product whose
	// metrics should be refreshed. Reported once per product per cycle.
	Rediscovered
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Rediscovered:
		return "rediscovered"
	}
	return "unknown"
}

// Result describes why a candidate was accepted or rejected.
type Result struct {
	Verdict    Verdict
	ExistingID int64  // set for Rediscovered
	Key        string // the identity key that matched
}

// Deduplicator checks candidates within a single cycle.
type Deduplicator struct {
	index      *Index
	names      map[string]bool
	composites map[string]bool
	urls       map[string]bool
	refreshed  map[int64]bool
}

// New starts a cycle against index.
func New(index *Index) *Deduplicator {
	return &Deduplicator{
		index:      index,
		names:      make(map[string]bool),
		composites: make(map[string]bool),
		urls:       make(map[string]bool),
		refreshed:  make(map[int64]bool),
	}
}

// Check classifies c. Accepted candidates are remembered so later repeats are duplicates.
func (d *Deduplicator) Check(c generate.Candidate) Result {
	name := database.NameKey(c.Name)
	if id, ok := d.index.ByName(c.Name); ok {
		if d.refreshed[id] {
			return Result{Verdict: Duplicate, Key: name}
		}
		d.refreshed[id] = true
		return Result{Verdict: Rediscovered, ExistingID: id, Key: name}
	}
	if d.names[name] {
		return Result{Verdict: Duplicate, Key: name}
	}

	composite := CompositeKey(c.Category, c.Subcategory, c.Name)
	if _, ok := d.index.ByComposite(c.Category, c.Subcategory, c.Name); ok || d.composites[composite] {
		return Result{Verdict: Duplicate, Key: composite}
	}

	var urls []string
	for _, raw := range c.ReferenceURLs {
		norm, err := validate.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, ok := d.index.ByURL(norm); ok || d.urls[norm] {
			return Result{Verdict: Duplicate, Key: norm}
		}
		urls = append(urls, norm)
	}

	d.names[name] = true
	d.composites[composite] = true
	for _, u := range urls {
		d.urls[u] = true
	}
	return Result{Verdict: Accept}
}
