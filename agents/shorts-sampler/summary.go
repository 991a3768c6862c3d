package shortssampler

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"shorts-sampler/internal/models"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/quota"
	"shorts-sampler/shared/storage"
)

// datasetStats describes the whole collected dataset, not just one run.
type datasetStats struct {
	MinViews      int64
	MaxViews      int64
	QuestionShare float64
	EmojiShare    float64
}

func computeDatasetStats(records []*models.VideoRecord) (datasetStats, bool) {
	if len(records) == 0 {
		return datasetStats{}, false
	}
	st := datasetStats{MinViews: records[0].ViewCount, MaxViews: records[0].ViewCount}
	var questions, emojis int
	for _, r := range records {
		st.MinViews = min(st.MinViews, r.ViewCount)
		st.MaxViews = max(st.MaxViews, r.ViewCount)
		if r.HasQuestion {
			questions++
		}
		if r.HasEmoji {
			emojis++
		}
	}
	n := float64(len(records))
	st.QuestionShare = float64(questions) / n
	st.EmojiShare = float64(emojis) / n
	return st, true
}

func writeSummary(w io.Writer, report *models.RunReport, records []*models.VideoRecord) {
	fmt.Fprintf(w, "\nCollection summary (run %s)\n", report.RunID)
	fmt.Fprintf(w, "Outcome: %s after %s\n", report.Outcome, report.Duration.Round(time.Second))
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	fmt.Fprintf(w, "This run: %d searches, %d details, %d recorded, %d duplicates, %d rejected\n",
		report.Searches, report.DetailsFetched, report.Recorded, report.Duplicates, report.Rejected)
	fmt.Fprintf(w, "Quota: %d/%d units used\n\n", report.QuotaUsed, report.QuotaLimit)

	writeTierTable(w, report.Tiers)

	if st, ok := computeDatasetStats(records); ok {
		fmt.Fprintf(w, "\nView range: %d to %d\n", st.MinViews, st.MaxViews)
		fmt.Fprintf(w, "Titles with a question: %.1f%%\n", st.QuestionShare*100)
		fmt.Fprintf(w, "Titles with emoji: %.1f%%\n", st.EmojiShare*100)
	}
	if report.ExportPath != "" {
		fmt.Fprintf(w, "Dataset: %s (%d records)\n", report.ExportPath, report.TotalRecords)
	}
}

func writeTierTable(w io.Writer, tiers []models.TierProgress) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tCOLLECTED\tTARGET\tPROGRESS")
	var collected, target int
	for _, t := range tiers {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\n", t.Name, t.Collected, t.Target, percent(t.Collected, t.Target))
		collected += t.Collected
		target += t.Target
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%.1f%%\n", collected, target, percent(collected, target))
	tw.Flush()
}

func writeStatus(w io.Writer, cfg config.SamplerConfig, progress *storage.ProgressStore, tracker *quota.Tracker) {
	tiers := make([]models.TierProgress, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, models.TierProgress{Name: t.Name, Collected: progress.TierCount(t.Name), Target: t.TargetCount})
	}

	if updated := progress.UpdatedAt(); !updated.IsZero() {
		fmt.Fprintf(w, "Progress as of %s\n", updated.Format("2006-01-02 15:04 MST"))
	} else {
		fmt.Fprintln(w, "No progress saved yet")
	}
	writeTierTable(w, tiers)
	fmt.Fprintf(w, "\nExhausted search units: %d\n", progress.ExhaustedCount())
	fmt.Fprintf(w, "Quota %s: %d/%d units used (%.1f%%), %d available, resets %s\n",
		tracker.Date(), tracker.Used(), tracker.Limit(), tracker.UsagePercentage(), tracker.Remaining(),
		tracker.NextReset().Format("2006-01-02 15:04 MST"))
}

func percent(collected, target int) float64 {
	if target == 0 {
		return 0
	}
	return float64(collected) * 100 / float64(target)
}
