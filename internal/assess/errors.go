package assess

import "github.com/rotisserie/eris"

// Fatal data defects. Row-level problems become Exclusions instead; these
// abort the run because continuing would silently misstate loads.
var (
	// ErrMissingGeometry: qualifying records reference sites absent from
	// the site polygon dataset.
	ErrMissingGeometry = eris.New("assess: sites without geometry")

	// ErrMissingSegment: a qualifying record references a river segment FID
	// absent from the river dataset.
	ErrMissingSegment = eris.New("assess: unknown river segment")

	// ErrSegmentMismatch: a record's segment reference disagrees with the
	// river dataset's attributes for that FID.
	ErrSegmentMismatch = eris.New("assess: river segment metadata mismatch")
)
