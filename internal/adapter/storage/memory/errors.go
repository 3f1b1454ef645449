package memory

import "errors"

var errNotFound = errors.New("record not found")
