package tiles

import "fmt"

// Kind selects the tile layer.
type Kind int

const (
	// KindBase tiles are opaque map imagery.
	KindBase Kind = iota
	// KindRelief tiles are terrain shading drawn over base tiles.
	KindRelief
)

// Dir returns the directory holding tiles of this kind inside a map directory.
func (k Kind) Dir() string {
	if k == KindRelief {
		return "reliefTiles"
	}
	return "baseTiles"
}

// Transparent reports whether tiles of this kind keep an alpha channel.
func (k Kind) Transparent() bool {
	return k == KindRelief
}

func (k Kind) String() string {
	if k == KindRelief {
		return "relief"
	}
	return "base"
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "base", "baseTiles":
		return KindBase, nil
	case "relief", "reliefTiles":
		return KindRelief, nil
	default:
		return KindBase, fmt.Errorf("unknown tile kind: %s (supported: base, relief)", s)
	}
}
