package protocol

import (
	"encoding/json"
	"fmt"
)

// Direction is a facing / step direction on the tile grid.
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Valid reports whether d is one of the four cardinal directions.
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}

// StepDelta returns the one-tile offset a step in this direction produces.
// Grid y grows downward.
func (d Direction) StepDelta() (dx, dy int) {
	switch d {
	case DirUp:
		return 0, -1
	case DirDown:
		return 0, 1
	case DirLeft:
		return -1, 0
	case DirRight:
		return 1, 0
	}
	return 0, 0
}

// numeric codes used by the original RPG Maker client (2/4/6/8 numpad layout)
var numericDirections = map[int]Direction{
	2: DirDown,
	4: DirLeft,
	6: DirRight,
	8: DirUp,
}

// UnmarshalJSON accepts both string directions and legacy numeric codes.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		dir := Direction(s)
		if !dir.Valid() {
			return fmt.Errorf("unknown direction %q", s)
		}
		*d = dir
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("direction must be a string or numeric code: %s", data)
	}
	dir, ok := numericDirections[n]
	if !ok {
		return fmt.Errorf("unknown numeric direction %d", n)
	}
	*d = dir
	return nil
}
