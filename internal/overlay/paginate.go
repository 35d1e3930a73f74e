package overlay

import "github.com/holdboard/holdboard/pkg/proto"

// Page returns the 1-based page slice of list. Out-of-range pages return
// an empty slice; callers reset to page 1 when the active filter or
// bucket changes.
func Page(list []proto.ObjectRecord, pageSize, page int) []proto.ObjectRecord {
	if pageSize <= 0 || page <= 0 {
		return nil
	}
	start := (page - 1) * pageSize
	if start >= len(list) {
		return nil
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

// PageCount returns how many pages list spans. An empty list still has
// one (empty) page so the UI always has a current page to stand on.
func PageCount(list []proto.ObjectRecord, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	if len(list) == 0 {
		return 1
	}
	return (len(list) + pageSize - 1) / pageSize
}
