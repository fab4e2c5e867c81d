package encoder

import "errors"

// Sentinel errors. Wrapped with context; check with errors.Is.
var (
	ErrInvalidBus           = errors.New("encoder: invalid bus")
	ErrInvalidID            = errors.New("encoder: id out of range")
	ErrDuplicateID          = errors.New("encoder: id already registered")
	ErrInvalidModes         = errors.New("encoder: modes must be >= 1")
	ErrInvalidDecodeType    = errors.New("encoder: unknown decode type")
	ErrLineConflict         = errors.New("encoder: line already in use")
	ErrReservedIndex        = errors.New("encoder: index 0 is reserved")
	ErrSwitchIndexMultiMode = errors.New("encoder: switch index requires a single-mode encoder")
	ErrIndexCollision       = errors.New("encoder: index used by another encoder")
	ErrInvalidDebounceWidth = errors.New("encoder: debounce width must be 1..32")
	ErrInvalidTimeout       = errors.New("encoder: timeout must not be negative")
	ErrInvalidSpinLimit     = errors.New("encoder: spin limit must not be negative")
	ErrLineUnstable         = errors.New("encoder: line did not settle")
)
