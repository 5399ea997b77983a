package universe

import "errors"

// ErrNoUniverse is returned when an operation names an unknown universe.
var ErrNoUniverse = errors.New("universe does not exist")
