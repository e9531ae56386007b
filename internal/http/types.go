package http

import "time"

const maxActivityLimit = 500

type StatusResponse struct {
	Poll  PollStatus  `json:"poll"`
	Queue QueueStatus `json:"queue"`
}

type PollStatus struct {
	CycleID               string    `json:"cycleId"`
	Cycles                uint64    `json:"cycles"`
	StartedAt             time.Time `json:"startedAt"`
	FinishedAt            time.Time `json:"finishedAt"`
	Skipped               bool      `json:"skipped"`
	LocalFederator        string    `json:"localFederator,omitempty"`
	SourceHeight          int64     `json:"sourceHeight"`
	BridgeHeight          int64     `json:"bridgeHeight"`
	LastHeaderRelay       time.Time `json:"lastHeaderRelay"`
	LastCollectionsUpdate time.Time `json:"lastCollectionsUpdate"`
	LastTargetBlock       uint64    `json:"lastTargetBlock"`
	ImportError           string    `json:"importError,omitempty"`
	ReleaseError          string    `json:"releaseError,omitempty"`
}

type QueueStatus struct {
	Depth    int    `json:"depth"`
	Dropped  uint64 `json:"dropped"`
	Capacity int    `json:"capacity"`
}
