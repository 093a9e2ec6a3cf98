package sx1276

import "sync"

// SimChip models the SX1276 register file and FIFO behind an SPI bus. Host
// builds and tests drive a real Device against it. Select is the CS line.
//
// Transmit completes instantly: entering TX mode records the packet, raises
// TxDone and returns to standby. Deliver injects a received packet while the
// chip is in continuous receive.
type SimChip struct {
	mu sync.Mutex

	regs [0x80]byte
	fifo [fifoSize]byte

	selected bool
	first    bool
	write    bool
	addr     byte

	sent [][]byte

	// OnDIO0 runs, outside the chip lock, whenever DIO0 rises.
	OnDIO0 func()
}

func NewSimChip() *SimChip {
	c := &SimChip{}
	c.regs[regVersion] = chipVersion
	c.regs[regOpMode] = modeStandby
	return c
}

// Select drives the active-low chip select.
func (c *SimChip) Select(level bool) {
	c.mu.Lock()
	c.selected = !level
	c.first = c.selected
	c.mu.Unlock()
}

func (c *SimChip) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	out, fire := c.xfer(b)
	c.mu.Unlock()
	c.raise(fire)
	return out, nil
}

func (c *SimChip) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	fire := false
	c.mu.Lock()
	for i := 0; i < n; i++ {
		var in byte
		if i < len(w) {
			in = w[i]
		}
		out, f := c.xfer(in)
		fire = fire || f
		if i < len(r) {
			r[i] = out
		}
	}
	c.mu.Unlock()
	c.raise(fire)
	return nil
}

func (c *SimChip) raise(fire bool) {
	if fire && c.OnDIO0 != nil {
		c.OnDIO0()
	}
}

func (c *SimChip) xfer(b byte) (out byte, fire bool) {
	if !c.selected {
		return 0xFF, false
	}
	if c.first {
		c.first = false
		c.addr = b &^ spiWrite
		c.write = b&spiWrite != 0
		return 0, false
	}
	if c.write {
		fire = c.store(c.addr, b)
	} else {
		out = c.load(c.addr)
	}
	if c.addr != regFifo {
		c.addr = (c.addr + 1) & 0x7F
	}
	return out, fire
}

func (c *SimChip) load(addr byte) byte {
	if addr == regFifo {
		v := c.fifo[c.regs[regFifoAddrPtr]]
		c.regs[regFifoAddrPtr]++
		return v
	}
	return c.regs[addr]
}

func (c *SimChip) store(addr, v byte) bool {
	switch addr {
	case regFifo:
		c.fifo[c.regs[regFifoAddrPtr]] = v
		c.regs[regFifoAddrPtr]++
	case regIrqFlags:
		c.regs[regIrqFlags] &^= v
	case regVersion:
	case regOpMode:
		c.regs[regOpMode] = v
		if v&modeMask == modeTx {
			return c.transmit()
		}
	default:
		c.regs[addr] = v
	}
	return false
}

func (c *SimChip) transmit() bool {
	n := int(c.regs[regPayloadLength])
	base := c.regs[regFifoTxBaseAddr]
	pkt := make([]byte, n)
	for i := range pkt {
		pkt[i] = c.fifo[base+byte(i)]
	}
	c.sent = append(c.sent, pkt)
	c.regs[regOpMode] = c.regs[regOpMode]&^modeMask | modeStandby
	c.regs[regIrqFlags] |= irqTxDone
	return c.regs[regDioMapping1]&dio0Mask == dio0TxDone
}

// Deliver places p in the receive FIFO and raises RxDone. It reports false if
// the chip is not in continuous receive.
func (c *SimChip) Deliver(p []byte, rssi int) bool {
	c.mu.Lock()
	if c.regs[regOpMode]&modeMask != modeRxContinuous || len(p) > maxPacket {
		c.mu.Unlock()
		return false
	}
	base := c.regs[regFifoRxBaseAddr]
	for i, b := range p {
		c.fifo[base+byte(i)] = b
	}
	c.regs[regFifoRxCurrentAddr] = base
	c.regs[regRxNbBytes] = byte(len(p))
	c.regs[regPktRssiValue] = byte(rssi + 157)
	c.regs[regPktSnrValue] = 0
	c.regs[regIrqFlags] |= irqRxDone | irqValidHdr
	fire := c.regs[regDioMapping1]&dio0Mask == dio0RxDone
	c.mu.Unlock()
	c.raise(fire)
	return true
}

// Sent returns a copy of every transmitted packet.
func (c *SimChip) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Receiving reports whether the chip is in continuous receive.
func (c *SimChip) Receiving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[regOpMode]&modeMask == modeRxContinuous
}

// LoRa reports whether LongRangeMode is set.
func (c *SimChip) LoRa() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[regOpMode]&modeLongRange != 0
}

// Frequency decodes the carrier from the Frf registers.
func (c *SimChip) Frequency() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	frf := uint64(c.regs[regFrfMsb])<<16 | uint64(c.regs[regFrfMid])<<8 | uint64(c.regs[regFrfLsb])
	return uint32(frf * fxosc >> 19)
}

// Reg reads a register without side effects.
func (c *SimChip) Reg(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr&0x7F]
}
