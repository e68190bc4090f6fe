package domain

import (
	"encoding/json"
	"time"
)

// Source is a registered feed the fetcher is allowed to submit items for.
type Source struct {
	ID        int64
	SourceKey string
	Title     string
	FeedURL   string
	Enabled   bool
	CreatedAt time.Time
}

// Rights records what the system may store and redistribute for an item.
type Rights struct {
	StoreFulltext bool   `json:"store_fulltext"`
	Mode          string `json:"mode"`
}

// DefaultRights is the conservative policy applied when the fetcher sends
// no rights block: summary and link only, no full text.
func DefaultRights() Rights {
	return Rights{StoreFulltext: false, Mode: "rss_summary_link_only"}
}

// FeedItem is a deduplicated feed item admitted into the content store.
// Identity fields (url, title, summary, published) are fixed at first
// admission; a duplicate admission refreshes fetched_at only.
type FeedItem struct {
	ID          int64
	ItemUID     string
	SourceID    int64
	SourceKey   string
	URL         string
	Title       string
	Summary     string
	Creator     *string
	PublishedAt *time.Time
	FetchedAt   time.Time
	Lang        string
	DedupKey    string
	Rights      Rights
	Raw         json.RawMessage
	Status      ItemStatus
	CreatedAt   time.Time
}
