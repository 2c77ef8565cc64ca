package service

import (
	"sort"

	"github.com/jgwerner/nbexchange/internal/models"
)

// Project сворачивает упорядоченную историю действий в текущее состояние
// задания. Чистая детерминированная редукция слева направо: более поздняя
// активная запись того же вида и области вытесняет более раннюю, ничья по
// времени разрешается только по sequence_no.
//
// Журнал — единственный источник истины: проекция пересчитывается из него
// целиком и нигде не кэшируется.
func Project(courseID, assignmentID string, history []models.Action) *models.AssignmentState {
	state := &models.AssignmentState{
		CourseID:     courseID,
		AssignmentID: assignmentID,
		Submissions:  make(map[string]*models.Action),
		Feedback:     make(map[string]*models.Action),
	}

	for i := range history {
		action := &history[i]

		if action.SequenceNo > state.ObservedSeq {
			state.ObservedSeq = action.SequenceNo
		}

		// Вытесненные записи видны только через history()
		if action.Status != models.ActionStatusActive {
			continue
		}

		switch action.Kind {
		case models.ActionRelease:
			if state.Release == nil || action.SequenceNo > state.Release.SequenceNo {
				state.Release = action
			}
		case models.ActionSubmit:
			prev := state.Submissions[action.UserID]
			if prev == nil || action.SequenceNo > prev.SequenceNo {
				state.Submissions[action.UserID] = action
			}
		case models.ActionReleaseFeedback:
			prev := state.Feedback[action.UserID]
			if prev == nil || action.SequenceNo > prev.SequenceNo {
				state.Feedback[action.UserID] = action
			}
		case models.ActionFetch, models.ActionCollect, models.ActionFetchFeedback:
			// Аудитные записи состояние не меняют
		}
	}

	return state
}

// Summarize строит сводку задания для listing-эндпоинта. Студент видит
// только собственную сдачу и собственный отзыв.
func Summarize(state *models.AssignmentState, viewerID string, viewerRole models.Role) models.AssignmentSummary {
	summary := models.AssignmentSummary{
		CourseID:     state.CourseID,
		AssignmentID: state.AssignmentID,
	}

	if state.Release != nil {
		releasedAt := state.Release.CreatedAt
		summary.ReleasedAt = &releasedAt
		summary.ReleaseSeq = state.Release.SequenceNo
		summary.Checksum = state.Release.ArtifactChecksum
		summary.NotebookSet = state.Release.NotebookSet
	}

	appendSubmission := func(action *models.Action) {
		summary.Submissions = append(summary.Submissions, models.SubmissionSummary{
			StudentID:   action.UserID,
			SequenceNo:  action.SequenceNo,
			Checksum:    action.ArtifactChecksum,
			SubmittedAt: action.CreatedAt,
			HasFeedback: state.ActiveFeedback(action.UserID) != nil,
		})
	}

	if viewerRole == models.RoleInstructor {
		for _, userID := range sortedKeys(state.Submissions) {
			appendSubmission(state.Submissions[userID])
		}
		summary.HasFeedback = len(state.Feedback) > 0
	} else {
		if own := state.ActiveSubmission(viewerID); own != nil {
			appendSubmission(own)
		}
		summary.HasFeedback = state.ActiveFeedback(viewerID) != nil
	}

	return summary
}

// Детерминированный порядок студентов в ответах
func sortedKeys(m map[string]*models.Action) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
