package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// ErrKindForbidden — проверка роли/подписки не прошла. Не ретраится.
	ErrKindForbidden ErrorKind = "forbidden"
	// ErrKindNotFound — курс/задание/артефакт отсутствует. Не ретраится.
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindConflict — оптимистический append проиграл гонку. Ретраится
	// координатором ограниченное число раз, затем отдаётся наружу.
	ErrKindConflict ErrorKind = "conflict"
	// ErrKindIntegrity — контрольная сумма не сошлась при чтении из
	// хранилища. Фатально, означает повреждение данных.
	ErrKindIntegrity ErrorKind = "integrity"
	// ErrKindInvalid — некорректный запрос (битый архив, неизвестный вид действия).
	ErrKindInvalid ErrorKind = "invalid"
)

// ExchangeError — типизированная ошибка обмена с контекстом области действия,
// чтобы вызывающий мог решить, имеет ли смысл повторять запрос.
type ExchangeError struct {
	Kind         ErrorKind
	CourseID     string
	AssignmentID string
	UserID       string
	Message      string
	Err          error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.CourseID != "" {
		msg += fmt.Sprintf(" (course=%s assignment=%s user=%s)", e.CourseID, e.AssignmentID, e.UserID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

type scope struct {
	CourseID     string
	AssignmentID string
	UserID       string
}

func Scope(courseID, assignmentID, userID string) scope {
	return scope{CourseID: courseID, AssignmentID: assignmentID, UserID: userID}
}

func newError(kind ErrorKind, sc scope, message string, err error) *ExchangeError {
	return &ExchangeError{
		Kind:         kind,
		CourseID:     sc.CourseID,
		AssignmentID: sc.AssignmentID,
		UserID:       sc.UserID,
		Message:      message,
		Err:          err,
	}
}

func Forbidden(sc scope, message string) *ExchangeError {
	return newError(ErrKindForbidden, sc, message, nil)
}

func NotFound(sc scope, message string) *ExchangeError {
	return newError(ErrKindNotFound, sc, message, nil)
}

func Conflict(sc scope, message string) *ExchangeError {
	return newError(ErrKindConflict, sc, message, nil)
}

func Integrity(sc scope, message string, err error) *ExchangeError {
	return newError(ErrKindIntegrity, sc, message, err)
}

func Invalid(sc scope, message string, err error) *ExchangeError {
	return newError(ErrKindInvalid, sc, message, err)
}

// KindOf возвращает вид ошибки обмена либо пустую строку для посторонних ошибок.
func KindOf(err error) ErrorKind {
	var exchErr *ExchangeError
	if errors.As(err, &exchErr) {
		return exchErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
