// Package export writes the collected dataset to disk.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/storage"

	"go.uber.org/zap"
)

// Columns is the CSV header, in output order.
var Columns = []string{
	"video_id",
	"title",
	"description",
	"channel_title",
	"published_at",
	"view_count",
	"like_count",
	"comment_count",
	"duration_seconds",
	"views_per_hour",
	"title_length",
	"title_word_count",
	"has_emoji",
	"has_question",
	"has_exclamation",
	"caps_ratio",
	"tags",
	"tag_count",
	"tier",
	"keyword",
	"collected_at",
}

// Path returns <exportDir>/<datasetName>.csv.
func Path(exportDir, datasetName string) string {
	return filepath.Join(exportDir, datasetName+".csv")
}

// WriteCSV replaces path with a CSV containing every record. The file is
// written in full on each call.
func WriteCSV(path string, records []*models.VideoRecord) error {
	err := storage.WriteFileAtomic(path, func(w io.Writer) error {
		return encode(w, records)
	})
	if err != nil {
		return fmt.Errorf("failed to export dataset: %w", err)
	}

	logger.Log.Info("dataset exported",
		zap.String("path", path),
		zap.Int("records", len(records)))
	return nil
}

func encode(w io.Writer, records []*models.VideoRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(r *models.VideoRecord) []string {
	return []string{
		r.VideoID,
		r.Title,
		r.Description,
		r.ChannelTitle,
		formatTime(r.PublishedAt),
		strconv.FormatInt(r.ViewCount, 10),
		strconv.FormatInt(r.LikeCount, 10),
		strconv.FormatInt(r.CommentCount, 10),
		strconv.Itoa(r.DurationSeconds),
		strconv.FormatFloat(r.ViewsPerHour, 'f', 4, 64),
		strconv.Itoa(r.TitleLength),
		strconv.Itoa(r.TitleWordCount),
		strconv.FormatBool(r.HasEmoji),
		strconv.FormatBool(r.HasQuestion),
		strconv.FormatBool(r.HasExclamation),
		strconv.FormatFloat(r.CapsRatio, 'f', 4, 64),
		strings.Join(r.Tags, "|"),
		strconv.Itoa(r.TagCount),
		r.Tier,
		r.Keyword,
		formatTime(r.CollectedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
