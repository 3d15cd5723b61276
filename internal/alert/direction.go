package alert

import "strings"

// Direction is where the hazard is relative to the vehicle
type Direction string

const (
	DirectionFront Direction = "front"
	DirectionRight Direction = "right"
	DirectionLeft  Direction = "left"
	DirectionRear  Direction = "rear"
)

// directionWords is checked in order; the first substring hit wins.
var directionWords = []struct {
	word string
	dir  Direction
}{
	{"right", DirectionRight},
	{"left", DirectionLeft},
	{"front", DirectionFront},
	{"rear", DirectionRear},
	{"back", DirectionRear},
}

// ParseDirection maps a configured name to a Direction, falling back to front.
func ParseDirection(s string) Direction {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionFront, DirectionRight, DirectionLeft, DirectionRear:
		return d
	case "back":
		return DirectionRear
	}
	return DirectionFront
}

// DirectionFromLabel derives the direction from a case-insensitive substring
// match on the label, returning fallback when nothing matches.
func DirectionFromLabel(label string, fallback Direction) Direction {
	l := strings.ToLower(label)
	for _, w := range directionWords {
		if strings.Contains(l, w.word) {
			return w.dir
		}
	}
	return fallback
}
