package store

import "github.com/runninghub-studio/studio/internal/model"

const (
	HistoryPrefix      = "ai-generator-history"
	RecentImagesPrefix = "ai-generator-recent-images"

	MaxHistory      = 20
	MaxRecentImages = 8
)

// History keeps the newest generation results of each account.
type History struct {
	kv KV
}

func NewHistory(kv KV) *History {
	return &History{kv: kv}
}

// List returns the history newest first. Entries pointing at blob URLs are
// dropped and the pruned list is written back.
func (h *History) List(account string) ([]model.GenerationResult, error) {
	key := accountKey(HistoryPrefix, account)
	var items []model.GenerationResult
	if _, err := load(h.kv, key, &items); err != nil {
		return nil, err
	}
	kept := items[:0:0]
	for _, it := range items {
		if isBlobURL(it.GeneratedURL) || isBlobURL(it.OriginalImage.URL) {
			continue
		}
		kept = append(kept, it)
	}
	if len(kept) != len(items) {
		if err := save(h.kv, key, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

// Add prepends r, keeping at most MaxHistory entries.
func (h *History) Add(account string, r model.GenerationResult) error {
	if isBlobURL(r.GeneratedURL) || isBlobURL(r.OriginalImage.URL) {
		return nil
	}
	items, err := h.List(account)
	if err != nil {
		return err
	}
	items = append([]model.GenerationResult{r}, items...)
	if len(items) > MaxHistory {
		items = items[:MaxHistory]
	}
	return save(h.kv, accountKey(HistoryPrefix, account), items)
}

func (h *History) Clear(account string) error {
	return h.kv.Delete(accountKey(HistoryPrefix, account))
}

// RecentImages remembers input images, unique by id.
type RecentImages struct {
	kv KV
}

func NewRecentImages(kv KV) *RecentImages {
	return &RecentImages{kv: kv}
}

func (r *RecentImages) List(account string) ([]model.ImageData, error) {
	key := accountKey(RecentImagesPrefix, account)
	var items []model.ImageData
	if _, err := load(r.kv, key, &items); err != nil {
		return nil, err
	}
	kept := items[:0:0]
	for _, it := range items {
		if !isBlobURL(it.URL) {
			kept = append(kept, it)
		}
	}
	if len(kept) != len(items) {
		if err := save(r.kv, key, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

// Add moves img to the front, replacing an older entry with the same id.
func (r *RecentImages) Add(account string, img model.ImageData) error {
	if isBlobURL(img.URL) {
		return nil
	}
	items, err := r.List(account)
	if err != nil {
		return err
	}
	next := []model.ImageData{img}
	for _, it := range items {
		if it.ID != img.ID {
			next = append(next, it)
		}
	}
	if len(next) > MaxRecentImages {
		next = next[:MaxRecentImages]
	}
	return save(r.kv, accountKey(RecentImagesPrefix, account), next)
}

func (r *RecentImages) Clear(account string) error {
	return r.kv.Delete(accountKey(RecentImagesPrefix, account))
}
