package collector

import "shorts-sampler/internal/models"

// SeenSet answers whether a video has already been collected.
type SeenSet interface {
	IsDuplicate(videoID string) bool
}

// FilterNew returns the results whose IDs are neither in seen nor earlier in
// the same batch, preserving order, and how many were dropped. Results with
// an empty ID are dropped too.
func FilterNew(seen SeenSet, results []models.SearchResult) ([]models.SearchResult, int) {
	fresh := make([]models.SearchResult, 0, len(results))
	batch := make(map[string]struct{}, len(results))
	dropped := 0

	for _, r := range results {
		if r.VideoID == "" || seen.IsDuplicate(r.VideoID) {
			dropped++
			continue
		}
		if _, ok := batch[r.VideoID]; ok {
			dropped++
			continue
		}
		batch[r.VideoID] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh, dropped
}
