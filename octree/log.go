package octree

import (
	"io"

	"golang.org/x/exp/slog"
)

// Logger receives debug output about tree reductions and palette sizes. It
// discards everything unless replaced.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
