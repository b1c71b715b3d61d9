package spawner

import "fmt"

// ChunkShift converts block coordinates to chunk coordinates (16 blocks).
const ChunkShift = 4

// Location is a block position inside a named world. It is comparable and
// used directly as the location index key.
type Location struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

func (l Location) ChunkX() int { return l.X >> ChunkShift }

func (l Location) ChunkZ() int { return l.Z >> ChunkShift }

// DistanceSquared measures from the block origin corner.
func (l Location) DistanceSquared(x, y, z float64) float64 {
	dx := x - float64(l.X)
	dy := y - float64(l.Y)
	dz := z - float64(l.Z)
	return dx*dx + dy*dy + dz*dz
}

func (l Location) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", l.World, l.X, l.Y, l.Z)
}
