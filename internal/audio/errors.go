package audio

import "errors"

// Request-path error taxonomy. Handlers match these with errors.Is and map
// them to HTTP statuses; the messages here are the only detail that crosses
// the API boundary.
var (
	ErrGenerationDisabled = errors.New("audio generation is currently disabled")
	ErrValidation         = errors.New("invalid generation request")
	ErrPermissionDenied   = errors.New("you don't have permission to perform this action")
	ErrQuotaExceeded      = errors.New("maximum audios per page reached (lifetime quota)")
	ErrDuplicateVoice     = errors.New("this voice is already used for the page")
	ErrNotFound           = errors.New("not found")
)
