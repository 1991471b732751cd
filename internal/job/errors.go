package job

import "errors"

// ErrNotFound marks lookups of ids that are non-positive, unknown or
// already expunged.
var ErrNotFound = errors.New("job not found")
