package models

import "time"

const SchemaVersion = 1

// Snapshot is the full serialized copy of store state written to durable
// storage. The quests/markers/categories/lastUpdated fields are the public
// snapshot document; the remaining collections ride along so that escrow and
// vote-dedup state survive a restart. Round-trips losslessly.
type Snapshot struct {
	Quests       []Quest       `json:"quests"`
	Markers      []Marker      `json:"markers"`
	Categories   []Category    `json:"categories"`
	LastUpdated  time.Time     `json:"lastUpdated"`
	Users        []User        `json:"users,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Reports      []Report      `json:"reports,omitempty"`
	Votes        []VoteRecord  `json:"votes,omitempty"`
}
