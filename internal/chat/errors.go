package chat

import "errors"

var (
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrTurnInFlight     = errors.New("a previous question is still being answered")
	ErrCanceled         = errors.New("submission canceled")
	ErrMessageNotFound  = errors.New("message not found in conversation")
	ErrInvalidRoute     = errors.New("invalid chat route")
	ErrInvalidDateRange = errors.New("start date is after end date")
)
