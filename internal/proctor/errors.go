package proctor

import "errors"

var (
	ErrNotReady             = errors.New("attempt is not ready")
	ErrPermissionsPending   = errors.New("required permissions not granted")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrCompleted            = errors.New("attempt already completed")
	ErrQuestionIndex        = errors.New("question index out of range")
	ErrUnknownQuestion      = errors.New("unknown question")
	ErrInvalidAnswer        = errors.New("answer is not an option of the question")
	ErrLoadFailed           = errors.New("failed to load attempt")
	ErrInvalidExam          = errors.New("exam definition is invalid")
	ErrSubmitRejected       = errors.New("submission rejected by backend")
)
