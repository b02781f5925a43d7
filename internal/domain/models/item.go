package models

import "fmt"

// Enhancement level bounds.
const (
	MinSID = 0
	MaxSID = 5
)

// Item is one tradable variant of a marketplace item.
type Item struct {
	ItemID   int64  `json:"item_id"`
	SID      int    `json:"sid"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ItemKey identifies an item level.
type ItemKey struct {
	ItemID int64
	SID    int
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d:%d", k.ItemID, k.SID)
}

// Key returns the (item_id, sid) identity of the item.
func (i Item) Key() ItemKey {
	return ItemKey{ItemID: i.ItemID, SID: i.SID}
}

// ValidSID reports whether sid is a known enhancement level.
func ValidSID(sid int) bool {
	return sid >= MinSID && sid <= MaxSID
}
