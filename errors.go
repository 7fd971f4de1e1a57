package fieldkit

import "errors"

var ErrUnknownEntity = errors.New("unknown entity kind")
var ErrInvalidReferent = errors.New("not a checked-out reference")
var ErrBadIdentifier = errors.New("relationship identifier has no id")
var ErrNotLinked = errors.New("reference is not a link satellite")
var ErrClosed = errors.New("no engine open")
