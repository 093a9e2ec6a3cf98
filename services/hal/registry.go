package hal

import (
	"strconv"
	"sync"

	"alcosense-go/errcode"
)

// Pins hands out each GPIO at most once. Board bring-up claims every pin it
// wires so that two drivers can never own the same line.
type Pins struct {
	mu     sync.Mutex
	f      PinFactory
	owners map[int]string
}

func NewPins(f PinFactory) *Pins {
	return &Pins{f: f, owners: make(map[int]string)}
}

// Claim returns pin n for owner.
func (p *Pins) Claim(n int, owner string) (GPIOPin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	op := "claim pin " + strconv.Itoa(n)
	if cur, ok := p.owners[n]; ok {
		return nil, &errcode.E{C: errcode.PinInUse, Op: op, Msg: "held by " + cur}
	}
	pin, ok := p.f.ByNumber(n)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: op}
	}
	p.owners[n] = owner
	return pin, nil
}

// ClaimIRQ is Claim for a pin that must support interrupts.
func (p *Pins) ClaimIRQ(n int, owner string) (IRQPin, error) {
	pin, err := p.Claim(n, owner)
	if err != nil {
		return nil, err
	}
	irq, ok := pin.(IRQPin)
	if !ok {
		p.Release(n)
		return nil, &errcode.E{C: errcode.Unsupported, Op: "claim pin " + strconv.Itoa(n), Msg: "no interrupt support"}
	}
	return irq, nil
}

// Release returns pin n to the pool.
func (p *Pins) Release(n int) {
	p.mu.Lock()
	delete(p.owners, n)
	p.mu.Unlock()
}

// Owner reports who holds pin n.
func (p *Pins) Owner(n int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.owners[n]
	return o, ok
}
