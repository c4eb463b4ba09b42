package subprocess

import (
	"strings"
	"sync"
)

// Tail is an io.Writer that keeps the last maxLines lines written to it.
// Child process stderr is piped through a Tail so a failing muxer can be
// logged with its final output attached.
type Tail struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	maxLines int
}

func NewTail(maxLines int) *Tail {
	return &Tail{maxLines: maxLines}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			t.appendLine(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *Tail) appendLine(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
	}
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.lines
	if t.partial.Len() > 0 {
		all = append(append([]string{}, t.lines...), t.partial.String())
	}
	return strings.Join(all, "\n")
}
