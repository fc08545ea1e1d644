// Package shop places store items in a room and detects when a marble rolls over one.
package shop

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

const DefaultReach = 30.0

// CatalogFormat is the field layout of one catalog line.
const CatalogFormat = "name,price,category,x,y"

var (
	catalogMu sync.Mutex
	catalogs  = make(map[string][]Item)
)

// DefaultCatalog is the built-in item set laid out on a 2×2 grid around the origin.
func DefaultCatalog() []Item {
	return []Item{
		{ID: "speed-boost", Name: "Speed Boost", Price: 4.99, Category: "powerup", X: -200, Y: -125},
		{ID: "shield", Name: "Shield", Price: 6.99, Category: "powerup", X: 200, Y: -125},
		{ID: "golden-skin", Name: "Golden Skin", Price: 2.99, Category: "cosmetic", X: -200, Y: 125},
		{ID: "trail", Name: "Rainbow Trail", Price: 1.99, Category: "cosmetic", X: 200, Y: 125},
	}
}

// LoadCatalog reads items from path, caching each path's first successful read for
// the life of the process. Each non-empty line is CatalogFormat; the id is the slugged name.
func LoadCatalog(path string) ([]Item, error) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	items, ok := catalogs[path]
	if !ok {
		var err error
		if items, err = readCatalog(path); err != nil {
			return nil, err
		}
		catalogs[path] = items
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

func readCatalog(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(string(data))
}

func ParseCatalog(data string) ([]Item, error) {
	lines := strings.Split(data, "\n")
	items := make([]Item, 0, len(lines))
	for n, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		parts := strings.Split(l, ",")
		if len(parts) != 5 {
			return nil, fmt.Errorf("catalog line %d: want %s, got %d fields", n+1, CatalogFormat, len(parts))
		}
		nums := make([]float64, 3)
		for i, idx := range []int{1, 3, 4} {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("catalog line %d: %w", n+1, err)
			}
			nums[i] = v
		}
		name := strings.TrimSpace(parts[0])
		items = append(items, Item{
			ID:       slug(name),
			Name:     name,
			Price:    nums[0],
			Category: strings.TrimSpace(parts[2]),
			X:        nums[1],
			Y:        nums[2],
		})
	}
	if len(items) == 0 {
		return nil, errors.New("catalog empty after parsing")
	}
	return items, nil
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// Pickup returns the items whose centre is within reach of (x, y), ordered by id.
func Pickup(x, y float64, items []Item, reach float64) []Item {
	var hit []Item
	for _, it := range items {
		if math.Hypot(it.X-x, it.Y-y) < reach {
			hit = append(hit, it)
		}
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i].ID < hit[j].ID })
	return hit
}

// Tracker reports an item once per visit: the marble has to leave an item before it can collect it again.
type Tracker struct {
	Items []Item
	Reach float64

	inside map[string]bool
}

func NewTracker(items []Item) *Tracker {
	return &Tracker{Items: items, Reach: DefaultReach, inside: make(map[string]bool)}
}

// Touch returns the items newly entered at (x, y).
func (t *Tracker) Touch(x, y float64) []Item {
	if t.inside == nil {
		t.inside = make(map[string]bool)
	}
	hits := Pickup(x, y, t.Items, t.Reach)
	now := make(map[string]bool, len(hits))
	var fresh []Item
	for _, it := range hits {
		now[it.ID] = true
		if !t.inside[it.ID] {
			fresh = append(fresh, it)
		}
	}
	t.inside = now
	return fresh
}
