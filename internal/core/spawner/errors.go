package spawner

import "errors"

var ErrDestroyed = errors.New("spawner: destroyed")
