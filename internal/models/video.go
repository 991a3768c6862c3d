package models

import "time"

// SearchQuery holds the parameters of one search.list call.
type SearchQuery struct {
	Keyword           string
	PublishedAfter    time.Time
	PublishedBefore   time.Time // zero means "now"
	Order             string
	MaxResults        int64
	RelevanceLanguage string
}

// SearchResult is a single hit returned by the search endpoint.
type SearchResult struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`
}

// VideoDetail is the metadata returned by the video detail endpoint.
type VideoDetail struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ChannelTitle    string    `json:"channel_title"`
	PublishedAt     time.Time `json:"published_at"`
	Duration        string    `json:"duration"`
	DurationSeconds int       `json:"duration_seconds"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
	CommentCount    int64     `json:"comment_count"`
	Tags            []string  `json:"tags"`
}

// VideoRecord is one collected video. The tier is assigned when the record is
// created and never changes afterwards.
type VideoRecord struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ChannelTitle    string    `json:"channel_title"`
	PublishedAt     time.Time `json:"published_at"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
	CommentCount    int64     `json:"comment_count"`
	DurationSeconds int       `json:"duration_seconds"`
	ViewsPerHour    float64   `json:"views_per_hour"`
	TitleLength     int       `json:"title_length"`
	TitleWordCount  int       `json:"title_word_count"`
	HasEmoji        bool      `json:"has_emoji"`
	HasQuestion     bool      `json:"has_question"`
	HasExclamation  bool      `json:"has_exclamation"`
	CapsRatio       float64   `json:"caps_ratio"`
	Tags            []string  `json:"tags"`
	TagCount        int       `json:"tag_count"`
	Tier            string    `json:"tier"`
	Keyword         string    `json:"keyword"`
	CollectedAt     time.Time `json:"collected_at"`
}
