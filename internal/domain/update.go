package domain

import "time"

// FrameUpdate announces that a fresh radar timeline was fetched and cached.
type FrameUpdate struct {
	ID              string    `json:"id"`
	CacheKey        string    `json:"cacheKey"`
	FrameCount      int       `json:"frameCount"`
	LatestTimestamp string    `json:"latestTimestamp"`
	PublishedAt     time.Time `json:"publishedAt"`
}
