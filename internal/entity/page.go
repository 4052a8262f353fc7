package entity

// PageRequest selects one page. Page is 1-based. Cursor, when set, is the next_cursor of a
// previous page of the same listing and takes precedence over Page.
type PageRequest struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Cursor   string `json:"cursor,omitempty"`
}

// Page is one page of a listing.
// Total comes from a separate COUNT(*) and is approximate under concurrent writes.
type Page[T any] struct {
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}
