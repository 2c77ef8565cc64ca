package models

import (
	"encoding/json"
	"time"
)

// ExchangeRequest — транспортно-независимая форма запроса к координатору.
// user_id и role приходят уже проверенными внешним identity-провайдером.
type ExchangeRequest struct {
	Action       string          `json:"action"`
	CourseID     string          `json:"course_id"`
	AssignmentID string          `json:"assignment_id"`
	UserID       string          `json:"user_id"`
	Role         string          `json:"role"`
	Payload      []byte          `json:"payload,omitempty"`
	TargetUserID string          `json:"target_user_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// ExchangeResponse — результат одного действия обмена.
type ExchangeResponse struct {
	SequenceNo   int64                 `json:"sequence_no"`
	Checksum     string                `json:"checksum,omitempty"`
	Artifact     []byte                `json:"artifact,omitempty"`
	NotebookSet  []NotebookRef         `json:"notebook_set,omitempty"`
	Collected    []CollectedSubmission `json:"collected,omitempty"`
	Deduplicated bool                  `json:"deduplicated,omitempty"`
	RecordedAt   time.Time             `json:"recorded_at"`
}

// CollectedSubmission — одна собранная сдача при collect.
type CollectedSubmission struct {
	StudentID   string        `json:"student_id"`
	SequenceNo  int64         `json:"sequence_no"`
	Checksum    string        `json:"checksum"`
	Artifact    []byte        `json:"artifact"`
	NotebookSet []NotebookRef `json:"notebook_set,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// AssignmentSummary — проекция одного задания для listing-эндпоинта.
type AssignmentSummary struct {
	CourseID     string              `json:"course_id"`
	AssignmentID string              `json:"assignment_id"`
	ReleasedAt   *time.Time          `json:"released_at,omitempty"`
	ReleaseSeq   int64               `json:"release_seq,omitempty"`
	Checksum     string              `json:"checksum,omitempty"`
	NotebookSet  []NotebookRef       `json:"notebook_set,omitempty"`
	Submissions  []SubmissionSummary `json:"submissions,omitempty"`
	HasFeedback  bool                `json:"has_feedback,omitempty"`
}

type SubmissionSummary struct {
	StudentID   string    `json:"student_id"`
	SequenceNo  int64     `json:"sequence_no"`
	Checksum    string    `json:"checksum"`
	SubmittedAt time.Time `json:"submitted_at"`
	HasFeedback bool      `json:"has_feedback"`
}

type SubscribeRequest struct {
	CourseID string `json:"course_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
}

type UnsubscribeRequest struct {
	CourseID string `json:"course_id"`
	UserID   string `json:"user_id"`
}

// StoredObject — один объект в хранилище артефактов, как его видит сборщик мусора.
type StoredObject struct {
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type StorageInfo struct {
	Provider    string `json:"provider"`
	Location    string `json:"location"`
	ObjectCount int64  `json:"object_count"`
	UsedSpace   int64  `json:"used_space"`
}
