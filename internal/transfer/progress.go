package transfer

import "sync"

// Progress is the chunk counter pair shared between a running transfer
// and the shell displaying it. Readers always see a consistent pair.
type Progress struct {
	mu    sync.Mutex
	done  uint32
	total uint32
}

func (p *Progress) set(done, total uint32) {
	p.mu.Lock()
	p.done, p.total = done, total
	p.mu.Unlock()
}

func (p *Progress) advance() {
	p.mu.Lock()
	p.done++
	p.mu.Unlock()
}

// Snapshot returns the completed and total chunk counts.
func (p *Progress) Snapshot() (done, total uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total
}
