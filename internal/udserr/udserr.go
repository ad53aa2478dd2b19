// Package udserr defines the stable UDS error values named in this design,
// plus the POSIX negatives they are mapped onto at the session boundary.
// Errors are plain sentinel values wrapped with fmt.Errorf's %w verb, the
// same errors.Is-friendly style the teacher uses in
// internal/ratelimiter/core and internal/ratelimiter/persistence (sentinel
// vars compared with errors.Is rather than type assertions).
package udserr

import "errors"

// Sentinel errors with stable identities across the UDS index.
var (
	ErrQueued             = errors.New("uds: queued")
	ErrDisabled           = errors.New("uds: disabled")
	ErrInvalidArgument    = errors.New("uds: invalid argument")
	ErrCorruptData        = errors.New("uds: corrupt data")
	ErrNoDirectory        = errors.New("uds: no directory")
	ErrBadState           = errors.New("uds: bad state")
	ErrDuplicateName      = errors.New("uds: duplicate name")
	ErrAlreadyRegistered  = errors.New("uds: already registered")
	ErrOverflow           = errors.New("uds: overflow")
	ErrNoMemory           = errors.New("uds: no memory")       // -ENOMEM
	ErrNoSpace            = errors.New("uds: no space")        // -ENOSPC
	ErrFileTooBig         = errors.New("uds: file too big")    // -EFBIG
	ErrReadOnlyFilesystem = errors.New("uds: read-only")       // -EROFS
	ErrAlreadyExists      = errors.New("uds: already exists")  // -EEXIST
)
