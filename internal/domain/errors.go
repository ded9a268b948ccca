package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrProviderFailure     = errors.New("provider failure")
	ErrStyleFloor          = errors.New("style purity below hard floor")
	ErrPreviewNotChosen    = errors.New("preview image not chosen")
	ErrAlreadyRegenerated  = errors.New("page already regenerated")
	ErrConflict            = errors.New("state conflict")
)
