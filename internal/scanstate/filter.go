package scanstate

import "pickscanner/internal/domain"

// FilterNew trims a newest-first listing down to the items published
// after the bookmarked one. No bookmark means everything is new (first
// run). A bookmark that no longer appears in the listing (the comment
// was deleted or edited upstream) also yields everything: reprocessing
// is safe because item inserts are idempotent on the natural key,
// while returning nothing would silently drop data.
func FilterNew(bookmarkID string, fresh []domain.RawItem) []domain.RawItem {
	if bookmarkID == "" {
		return fresh
	}
	for i, item := range fresh {
		if item.ID == bookmarkID {
			return fresh[:i]
		}
	}
	return fresh
}
