package logsystem

// The wire messages below are plain JSON-encodable structs, matching the
// teacher's convention of marshaling request/reply types with
// encoding/json rather than a generated wire format (see
// internal/logsystem/transport for the client that sends them).

// TLogCommitRequest carries one push's payload to a single log server.
type TLogCommitRequest struct {
	PrevVersion  Version  `json:"prev_version"`
	Version      Version  `json:"version"`
	KnownCommitted Version `json:"known_committed"`
	Messages     []byte   `json:"messages"`
	DebugID      string   `json:"debug_id"`
}

// TLogCommitReply acknowledges a commit.
type TLogCommitReply struct {
	Version Version `json:"version"`
}

// TLogPopRequest asks a log server or log router to release storage for
// versions at or before UpTo for Tag.
type TLogPopRequest struct {
	UpTo           Version `json:"up_to"`
	KnownCommitted Version `json:"known_committed"`
	Tag            Tag     `json:"tag"`
}

// TLogLockRequest asks a server to stop accepting new commits for the
// epoch it currently serves and report its end version.
type TLogLockRequest struct{}

// TLogLockResult is the reply to a lock request: End is one past the last
// version the server will ever accept in the prior epoch.
type TLogLockResult struct {
	End                 Version `json:"end"`
	KnownCommittedVersion Version `json:"known_committed_version"`
}

// TLogConfirmRunningRequest asks a server to confirm it is still serving
// the epoch identified by DebugID, without otherwise affecting its state.
type TLogConfirmRunningRequest struct {
	DebugID string `json:"debug_id"`
}

// TLogRecoveryFinishedRequest tells a server the recovering epoch has
// completed and it may resume normal operation.
type TLogRecoveryFinishedRequest struct{}

// InitializeTLogRequest recruits a fresh log server into the new epoch.
type InitializeTLogRequest struct {
	RecruitmentID  string          `json:"recruitment_id"`
	StoreType      string          `json:"store_type"`
	RecoverFrom    LogSystemConfig `json:"recover_from"`
	RecoverAt      Version         `json:"recover_at"`
	KnownCommitted Version         `json:"known_committed"`
	Epoch          int64           `json:"epoch"`
	Locality       Locality        `json:"locality"`
	RemoteTag      Tag             `json:"remote_tag"`
	IsPrimary      bool            `json:"is_primary"`
	AllTags        []Tag           `json:"all_tags"`
	StartVersion   Version         `json:"start_version"`
	LogRouterTags  int             `json:"log_router_tags"`
	RecoverTags    []Tag           `json:"recover_tags"`
}

// InitializeTLogReply carries the recruited server's interface.
type InitializeTLogReply struct {
	Interface ServerInterface `json:"interface"`
}

// InitializeLogRouterRequest recruits a log router for a remote epoch.
type InitializeLogRouterRequest struct {
	RecoveryCount  int64      `json:"recovery_count"`
	RouterTag      Tag        `json:"router_tag"`
	StartVersion   Version    `json:"start_version"`
	TLogLocalities []Locality `json:"tlog_localities"`
	HasBestPolicy  bool       `json:"has_best_policy"`
	Locality       Locality   `json:"locality"`
}

// InitializeLogRouterReply carries the recruited router's interface.
type InitializeLogRouterReply struct {
	Interface ServerInterface `json:"interface"`
}

// TLogRejoinRequest is sent by a surviving log server announcing itself
// to whichever LogSystem is currently performing recovery.
type TLogRejoinRequest struct {
	MyInterface ServerInterface `json:"my_interface"`
}

// TLogRejoinReply tells the rejoining server whether it is recognized by
// the current recovery (false) or should stand down (true).
type TLogRejoinReply struct {
	StandDown bool `json:"stand_down"`
}
