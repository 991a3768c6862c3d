// Package features derives the analysis columns stored with every collected
// video.
package features

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"shorts-sampler/internal/models"
)

// Pictographs, emoticons and transport symbols.
var emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}]`)

type TitleFeatures struct {
	Length         int
	WordCount      int
	HasEmoji       bool
	HasQuestion    bool
	HasExclamation bool
	CapsRatio      float64
}

// FromTitle computes the title-level features. Length and the caps ratio are
// measured in runes.
func FromTitle(title string) TitleFeatures {
	length := utf8.RuneCountInString(title)

	upper := 0
	for _, r := range title {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	denom := length
	if denom < 1 {
		denom = 1
	}

	return TitleFeatures{
		Length:         length,
		WordCount:      len(strings.Fields(title)),
		HasEmoji:       emojiPattern.MatchString(title),
		HasQuestion:    strings.Contains(title, "?"),
		HasExclamation: strings.Contains(title, "!"),
		CapsRatio:      float64(upper) / float64(denom),
	}
}

// ViewsPerHour divides views by the video's age in hours, counting anything
// younger than an hour as one hour.
func ViewsPerHour(views int64, publishedAt, now time.Time) float64 {
	hours := now.Sub(publishedAt).Hours()
	if hours < 1 {
		hours = 1
	}
	return float64(views) / hours
}

// BuildRecord turns fetched details into the record stored for tier.
func BuildRecord(d *models.VideoDetail, tier, keyword string, now time.Time) *models.VideoRecord {
	tf := FromTitle(d.Title)
	tags := append([]string(nil), d.Tags...)

	return &models.VideoRecord{
		VideoID:         d.ID,
		Title:           d.Title,
		Description:     d.Description,
		ChannelTitle:    d.ChannelTitle,
		PublishedAt:     d.PublishedAt,
		ViewCount:       d.ViewCount,
		LikeCount:       d.LikeCount,
		CommentCount:    d.CommentCount,
		DurationSeconds: d.DurationSeconds,
		ViewsPerHour:    ViewsPerHour(d.ViewCount, d.PublishedAt, now),
		TitleLength:     tf.Length,
		TitleWordCount:  tf.WordCount,
		HasEmoji:        tf.HasEmoji,
		HasQuestion:     tf.HasQuestion,
		HasExclamation:  tf.HasExclamation,
		CapsRatio:       tf.CapsRatio,
		Tags:            tags,
		TagCount:        len(tags),
		Tier:            tier,
		Keyword:         keyword,
		CollectedAt:     now.UTC(),
	}
}
