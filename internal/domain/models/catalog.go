package models

import (
	"sort"
	"time"
)

// Catalog is an immutable snapshot of the tracked item universe.
type Catalog struct {
	Version    uint64
	LoadedAt   time.Time
	categories map[string][]Item
	members    map[string]map[ItemKey]struct{}
}

// NewCatalog builds a catalog from items. Items are copied and grouped by
// category, ordered by item_id then sid.
func NewCatalog(version uint64, loadedAt time.Time, items []Item) *Catalog {
	cats := make(map[string][]Item)
	members := make(map[string]map[ItemKey]struct{})
	for _, it := range items {
		if it.Category == "" {
			continue
		}
		cats[it.Category] = append(cats[it.Category], it)
		if members[it.Category] == nil {
			members[it.Category] = make(map[ItemKey]struct{})
		}
		members[it.Category][it.Key()] = struct{}{}
	}
	for _, list := range cats {
		sort.Slice(list, func(i, j int) bool {
			if list[i].ItemID != list[j].ItemID {
				return list[i].ItemID < list[j].ItemID
			}
			return list[i].SID < list[j].SID
		})
	}
	return &Catalog{Version: version, LoadedAt: loadedAt, categories: cats, members: members}
}

// HasCategory reports whether the category is tracked.
func (c *Catalog) HasCategory(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.categories[name]
	return ok
}

// Categories returns the tracked category names in ascending order.
func (c *Catalog) Categories() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.categories))
	for name := range c.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Items returns a copy of the items of a category.
func (c *Catalog) Items(category string) []Item {
	if c == nil {
		return nil
	}
	src := c.categories[category]
	out := make([]Item, len(src))
	copy(out, src)
	return out
}

// Contains reports whether the item level is tracked under category.
func (c *Catalog) Contains(category string, key ItemKey) bool {
	if c == nil {
		return false
	}
	_, ok := c.members[category][key]
	return ok
}

// Size returns the number of tracked item levels.
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, list := range c.categories {
		n += len(list)
	}
	return n
}
