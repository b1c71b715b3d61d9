package registry

import "errors"

var (
	ErrDuplicateIdentity = errors.New("registry: duplicate spawner id")
	ErrLocationCollision = errors.New("registry: location already occupied")
	ErrInvalidSpawner    = errors.New("registry: invalid spawner")
)
