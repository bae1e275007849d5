package models

import "time"

// CacheEntry is one immutable cached provider response.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	ProviderID  string    `json:"provider_id"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	SizeBytes   int64     `json:"size_bytes"`
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats reports cache contents and this process's hit counters.
type CacheStats struct {
	Dir        string    `json:"dir"`
	Entries    int64     `json:"entries"`
	TotalBytes int64     `json:"total_bytes"`
	Expired    int64     `json:"expired"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Newest     time.Time `json:"newest,omitempty"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
}
