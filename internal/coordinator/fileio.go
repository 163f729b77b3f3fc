package coordinator

import (
	"fmt"
	"os"
	"sync"

	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// FileOpener performs the byte-level file I/O after a grant. The engine
// treats handles as opaque tokens drawn from the region's handle sequence;
// an opener binds a token to whatever it opened and releases that binding
// on close.
//
// Closing a token the opener never bound must succeed silently: destroy's
// safety net closes tokens left behind by crashed participants, and those
// were opened in another process.
type FileOpener interface {
	// Open opens path in the given mode and binds it to token.
	Open(path, mode string, token uint64) error

	// Close releases whatever is bound to token.
	Close(token uint64) error
}

// OSFileOpener opens real files and keeps a process-local token table.
// Modes follow fopen: "r", "r+", "w", "w+", "a", "a+".
type OSFileOpener struct {
	mu    sync.Mutex
	files map[uint64]*os.File
}

// NewOSFileOpener creates an OSFileOpener.
func NewOSFileOpener() *OSFileOpener {
	return &OSFileOpener{files: make(map[uint64]*os.File)}
}

// Open opens path and binds the file to token.
func (o *OSFileOpener) Open(path, mode string, token uint64) error {
	flags, err := parseMode(mode)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to open file", err)
	}

	o.mu.Lock()
	o.files[token] = f
	o.mu.Unlock()
	return nil
}

// Close closes the file bound to token. Unknown tokens are tolerated.
func (o *OSFileOpener) Close(token uint64) error {
	o.mu.Lock()
	f, ok := o.files[token]
	delete(o.files, token)
	o.mu.Unlock()

	if !ok {
		return nil
	}
	if err := f.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to close file", err)
	}
	return nil
}

// File returns the open file bound to token, for callers that want to read
// or write after a grant.
func (o *OSFileOpener) File(token uint64) (*os.File, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[token]
	return f, ok
}

func parseMode(mode string) (int, error) {
	switch mode {
	case "r":
		return os.O_RDONLY, nil
	case "r+":
		return os.O_RDWR, nil
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, nil
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, nil
	default:
		return 0, apperrors.Wrap(apperrors.CodeIOError, "unsupported open mode",
			fmt.Errorf("mode %q", mode))
	}
}

// NullFileOpener binds tokens without touching the filesystem. Used by the
// in-process demo and by workloads that only exercise the coordination
// protocol.
type NullFileOpener struct {
	mu     sync.Mutex
	tokens map[uint64]string
}

// NewNullFileOpener creates a NullFileOpener.
func NewNullFileOpener() *NullFileOpener {
	return &NullFileOpener{tokens: make(map[uint64]string)}
}

// Open records the binding.
func (o *NullFileOpener) Open(path, mode string, token uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[token] = path
	return nil
}

// Close forgets the binding.
func (o *NullFileOpener) Close(token uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tokens, token)
	return nil
}

// OpenCount returns how many tokens are currently bound.
func (o *NullFileOpener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tokens)
}
