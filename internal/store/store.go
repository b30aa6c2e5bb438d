package store

import "time"

// DefaultPath is where the CLI keeps its state unless told otherwise.
const DefaultPath = ".studio/state.json"

// Store groups the repositories sharing one KV.
type Store struct {
	KV           KV
	History      *History
	RecentImages *RecentImages
	Jobs         *Jobs
	Points       *Points
	Auth         *Auth
}

func New(kv KV, now func() time.Time) *Store {
	return &Store{
		KV:           kv,
		History:      NewHistory(kv),
		RecentImages: NewRecentImages(kv),
		Jobs:         NewJobs(kv, now),
		Points:       NewPoints(kv, now),
		Auth:         NewAuth(kv),
	}
}

// Open returns a Store persisted in the JSON file at path.
func Open(path string) (*Store, error) {
	kv, err := OpenFileKV(path)
	if err != nil {
		return nil, err
	}
	return New(kv, time.Now), nil
}
