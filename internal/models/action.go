package models

import (
	"time"
)

type ActionKind string

const (
	ActionRelease         ActionKind = "release"
	ActionFetch           ActionKind = "fetch"
	ActionSubmit          ActionKind = "submit"
	ActionCollect         ActionKind = "collect"
	ActionReleaseFeedback ActionKind = "release_feedback"
	ActionFetchFeedback   ActionKind = "fetch_feedback"
)

func (k ActionKind) String() string {
	return string(k)
}

func IsValidActionKind(kind string) bool {
	switch ActionKind(kind) {
	case ActionRelease, ActionFetch, ActionSubmit, ActionCollect, ActionReleaseFeedback, ActionFetchFeedback:
		return true
	default:
		return false
	}
}

// Mutating сообщает, пишет ли действие новый артефакт и вытесняет ли
// предыдущие записи того же вида. Остальные виды чисто аудитные.
func (k ActionKind) Mutating() bool {
	switch k {
	case ActionRelease, ActionSubmit, ActionReleaseFeedback:
		return true
	default:
		return false
	}
}

type ActionStatus string

const (
	ActionStatusActive     ActionStatus = "active"
	ActionStatusSuperseded ActionStatus = "superseded"
)

func (s ActionStatus) String() string {
	return string(s)
}

// NotebookRef — имя тетради и контрольная сумма её содержимого внутри артефакта.
type NotebookRef struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

// Action — одна запись журнала обмена. После вставки запись неизменяема,
// единственный допустимый переход — status: active -> superseded.
type Action struct {
	SequenceNo       int64         `json:"sequence_no" db:"sequence_no"`
	CourseID         string        `json:"course_id" db:"course_id"`
	AssignmentID     string        `json:"assignment_id" db:"assignment_id"`
	UserID           string        `json:"user_id" db:"user_id"`
	Kind             ActionKind    `json:"kind" db:"kind"`
	ArtifactChecksum string        `json:"artifact_checksum,omitempty" db:"artifact_checksum"`
	NotebookSet      []NotebookRef `json:"notebook_set,omitempty" db:"notebook_set"`
	Status           ActionStatus  `json:"status" db:"status"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
}

// AssignmentState — производное "текущее состояние", полученное свёрткой
// журнала. ObservedSeq — максимальный sequence_no, учтённый свёрткой;
// он же оптимистическая метка для следующего append.
type AssignmentState struct {
	CourseID     string             `json:"course_id"`
	AssignmentID string             `json:"assignment_id"`
	Release      *Action            `json:"release,omitempty"`
	Submissions  map[string]*Action `json:"submissions,omitempty"`
	Feedback     map[string]*Action `json:"feedback,omitempty"`
	ObservedSeq  int64              `json:"observed_seq"`
}

// ActiveSubmission возвращает активную сдачу студента либо nil.
func (s *AssignmentState) ActiveSubmission(userID string) *Action {
	if s == nil || s.Submissions == nil {
		return nil
	}
	return s.Submissions[userID]
}

// ActiveFeedback возвращает активный отзыв для студента либо nil.
func (s *AssignmentState) ActiveFeedback(userID string) *Action {
	if s == nil || s.Feedback == nil {
		return nil
	}
	return s.Feedback[userID]
}

// Released сообщает, есть ли у задания хоть один активный релиз.
func (s *AssignmentState) Released() bool {
	return s != nil && s.Release != nil
}
