package fetcher

import (
	"strconv"
	"sync"
	"time"

	"github.com/lgulliver/upturn/pkg/types"
)

// DefaultExtension is appended to every generated blob name
const DefaultExtension = ".png"

// Namer generates blob names from the current time in milliseconds.
// Names are strictly increasing within one Namer, so two downloads in the same
// millisecond never collide. A clock rolled back across restarts can still
// reuse a name.
type Namer struct {
	mu   sync.Mutex
	last int64
	ext  string
	now  func() time.Time
}

// NewNamer creates a namer using ext as the file extension
func NewNamer(ext string) *Namer {
	if ext == "" {
		ext = DefaultExtension
	}
	return &Namer{ext: ext, now: time.Now}
}

// Next returns a new blob name
func (n *Namer) Next() types.BlobRef {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now().UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	return types.BlobRef(strconv.FormatInt(ms, 10) + n.ext)
}
