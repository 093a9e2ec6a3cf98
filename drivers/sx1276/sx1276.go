// Package sx1276 is a register-level LoRa driver for the Semtech SX1276 over
// SPI. It covers the packet path the firmware needs and nothing else:
//
//	d := sx1276.New(spi, sx1276.Pins{CS: cs.Set, Reset: rst.Set})
//	err := d.Configure(sx1276.Config{Frequency: 915_000_000})
//	d.Receive()                     // continuous receive, DIO0 = RxDone
//	ev, err := d.HandleEvent(DIO0)  // call from the DIO0 task
//	d.Send(payload)                 // DIO0 = TxDone; call Receive after TxDone
//
// The driver never blocks on the radio and never runs from interrupt
// context; DIO0 only tells the caller to call HandleEvent.
package sx1276

import (
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// Errors returned by the driver.
var (
	ErrNotDetected = errors.New("sx1276: chip not detected")
	ErrTooLong     = errors.New("sx1276: packet too long")
	ErrBusy        = errors.New("sx1276: transmit in progress")
	ErrConfig      = errors.New("sx1276: invalid config")
)

// Pins are the control lines owned by the driver. CS is required; the rest
// may be nil. Levels are logical: true drives the line high.
type Pins struct {
	CS       func(level bool)
	Reset    func(level bool)
	RxSwitch func(level bool)
	TxSwitch func(level bool)
	TCXO     func(level bool)
}

// Event is a radio interrupt line.
type Event uint8

const (
	DIO0 Event = iota
)

// ClientEvent is what HandleEvent observed.
type ClientEvent uint8

const (
	None ClientEvent = iota
	TxDone
	Rx
)

func (e ClientEvent) String() string {
	switch e {
	case TxDone:
		return "tx_done"
	case Rx:
		return "rx"
	}
	return "none"
}

// State of the driver's packet session.
type State uint8

const (
	Idle State = iota
	Receiving
	Transmitting
)

// Bandwidth codes for RegModemConfig1.
type Bandwidth uint8

const (
	BW62k5 Bandwidth = 6
	BW125k Bandwidth = 7
	BW250k Bandwidth = 8
	BW500k Bandwidth = 9
)

// Config controls the modem. Zero fields take defaults.
type Config struct {
	Frequency       uint32 // Hz, default 915 MHz
	SpreadingFactor uint8  // 6..12, default 9
	Bandwidth       Bandwidth
	CodingRate      uint8 // 5..8 for 4/5..4/8, default 5
	TxPower         int8  // dBm on PA_BOOST, 2..17, default 14
	SyncWord        uint8 // default 0x12
	Preamble        uint16
}

func (c *Config) defaults() {
	if c.Frequency == 0 {
		c.Frequency = 915_000_000
	}
	if c.SpreadingFactor == 0 {
		c.SpreadingFactor = 9
	}
	if c.Bandwidth == 0 {
		c.Bandwidth = BW125k
	}
	if c.CodingRate == 0 {
		c.CodingRate = 5
	}
	if c.TxPower == 0 {
		c.TxPower = 14
	}
	if c.SyncWord == 0 {
		c.SyncWord = 0x12
	}
	if c.Preamble == 0 {
		c.Preamble = 8
	}
}

func (c *Config) valid() bool {
	return c.SpreadingFactor >= 6 && c.SpreadingFactor <= 12 &&
		c.CodingRate >= 5 && c.CodingRate <= 8 &&
		c.TxPower >= 2 && c.TxPower <= 17 &&
		c.Bandwidth >= BW62k5 && c.Bandwidth <= BW500k
}

// Device is an SX1276 radio.
type Device struct {
	bus  drivers.SPI
	pins Pins
	cfg  Config

	state State
	buf   []byte
	n     int
	rssi  int16
	snr   int8

	w [2]byte
	r [2]byte
}

// New creates a device. It does not touch the chip.
func New(bus drivers.SPI, pins Pins) *Device {
	return &Device{bus: bus, pins: pins, buf: make([]byte, maxPacket)}
}

// Reset pulses the reset line. A no-op without a reset pin.
func (d *Device) Reset() {
	if d.pins.Reset == nil {
		return
	}
	d.pins.Reset(false)
	time.Sleep(time.Millisecond)
	d.pins.Reset(true)
	time.Sleep(6 * time.Millisecond)
}

// Configure resets the chip, checks its version and applies cfg. The chip is
// left in standby.
func (d *Device) Configure(cfg Config) error {
	cfg.defaults()
	if !cfg.valid() {
		return ErrConfig
	}
	if d.pins.TCXO != nil {
		d.pins.TCXO(true)
	}
	d.pins.CS(true)
	d.Reset()

	v, err := d.readReg(regVersion)
	if err != nil {
		return err
	}
	if v != chipVersion {
		return ErrNotDetected
	}

	// LongRangeMode can only be set in sleep.
	frf := (uint64(cfg.Frequency) << 19) / fxosc
	mc1 := byte(cfg.Bandwidth)<<4 | (cfg.CodingRate-4)<<1
	mc2 := cfg.SpreadingFactor<<4 | 0x04 // CRC on
	mc3 := byte(0x04)                    // AGC auto
	if cfg.SpreadingFactor >= 11 && cfg.Bandwidth <= BW125k {
		mc3 |= 0x08 // low data rate optimise
	}
	seq := []struct{ reg, val byte }{
		{regOpMode, modeSleep},
		{regOpMode, modeLongRange | modeSleep},
		{regFrfMsb, byte(frf >> 16)},
		{regFrfMid, byte(frf >> 8)},
		{regFrfLsb, byte(frf)},
		{regFifoTxBaseAddr, 0x00},
		{regFifoRxBaseAddr, 0x00},
		{regLna, 0x23},
		{regOcp, 0x2B},
		{regPaConfig, 0x80 | byte(cfg.TxPower-2)},
		{regModemConfig1, mc1},
		{regModemConfig2, mc2},
		{regModemConfig3, mc3},
		{regPreambleMsb, byte(cfg.Preamble >> 8)},
		{regPreambleLsb, byte(cfg.Preamble)},
		{regSyncWord, cfg.SyncWord},
		{regIrqFlagsMask, 0x00},
		{regIrqFlags, irqAll},
		{regOpMode, modeLongRange | modeStandby},
	}
	for _, s := range seq {
		if err := d.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}
	d.cfg = cfg
	d.state = Idle
	return nil
}

// Receive enters continuous receive with DIO0 mapped to RxDone.
func (d *Device) Receive() error {
	d.antenna(false)
	seq := []struct{ reg, val byte }{
		{regOpMode, modeLongRange | modeStandby},
		{regDioMapping1, dio0RxDone},
		{regIrqFlags, irqAll},
		{regFifoAddrPtr, 0x00},
		{regOpMode, modeLongRange | modeRxContinuous},
	}
	for _, s := range seq {
		if err := d.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}
	d.state = Receiving
	return nil
}

// Send loads p into the FIFO and starts transmitting. TxDone arrives through
// HandleEvent.
func (d *Device) Send(p []byte) error {
	if len(p) > maxPacket {
		return ErrTooLong
	}
	if d.state == Transmitting {
		return ErrBusy
	}
	seq := []struct{ reg, val byte }{
		{regOpMode, modeLongRange | modeStandby},
		{regDioMapping1, dio0TxDone},
		{regIrqFlags, irqAll},
		{regFifoAddrPtr, 0x00},
		{regPayloadLength, byte(len(p))},
	}
	for _, s := range seq {
		if err := d.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}
	if err := d.writeBurst(regFifo, p); err != nil {
		return err
	}
	d.antenna(true)
	if err := d.writeReg(regOpMode, modeLongRange|modeTx); err != nil {
		return err
	}
	d.state = Transmitting
	return nil
}

// HandleEvent reads and clears the interrupt flags and reports what happened.
// A packet with a CRC error is dropped and reported as None; the chip stays
// in receive.
func (d *Device) HandleEvent(ev Event) (ClientEvent, error) {
	if ev != DIO0 {
		return None, nil
	}
	flags, err := d.readReg(regIrqFlags)
	if err != nil {
		return None, err
	}
	if err := d.writeReg(regIrqFlags, flags); err != nil {
		return None, err
	}
	switch {
	case flags&irqTxDone != 0:
		d.state = Idle
		return TxDone, nil
	case flags&irqRxDone != 0 && flags&irqCrcError != 0:
		return None, nil
	case flags&irqRxDone != 0:
		return Rx, d.fetch()
	}
	return None, nil
}

func (d *Device) fetch() error {
	n, err := d.readReg(regRxNbBytes)
	if err != nil {
		return err
	}
	cur, err := d.readReg(regFifoRxCurrentAddr)
	if err != nil {
		return err
	}
	if err := d.writeReg(regFifoAddrPtr, cur); err != nil {
		return err
	}
	size := int(n)
	if size > cap(d.buf) {
		size = cap(d.buf)
	}
	d.buf = d.buf[:size]
	if err := d.readBurst(regFifo, d.buf); err != nil {
		return err
	}
	d.n = size
	rssi, err := d.readReg(regPktRssiValue)
	if err != nil {
		return err
	}
	snr, err := d.readReg(regPktSnrValue)
	if err != nil {
		return err
	}
	d.rssi = int16(rssi) - 157
	d.snr = int8(snr) / 4
	return nil
}

// Received is the last packet. It aliases the receive buffer and is valid
// until the next HandleEvent or SetBuffer.
func (d *Device) Received() []byte { return d.buf[:d.n] }

// SetBuffer replaces the receive buffer and forgets the last packet.
func (d *Device) SetBuffer(b []byte) {
	d.buf = b[:0:len(b)]
	d.n = 0
}

func (d *Device) State() State { return d.state }

// RSSI of the last packet in dBm.
func (d *Device) RSSI() int { return int(d.rssi) }

// SNR of the last packet in dB.
func (d *Device) SNR() int { return int(d.snr) }

// Sleep puts the chip in its lowest power mode.
func (d *Device) Sleep() error {
	d.state = Idle
	return d.writeReg(regOpMode, modeLongRange|modeSleep)
}

func (d *Device) antenna(tx bool) {
	if d.pins.RxSwitch != nil {
		d.pins.RxSwitch(!tx)
	}
	if d.pins.TxSwitch != nil {
		d.pins.TxSwitch(tx)
	}
}

func (d *Device) readReg(reg byte) (byte, error) {
	d.w[0], d.w[1] = reg&^spiWrite, 0
	d.pins.CS(false)
	err := d.bus.Tx(d.w[:], d.r[:])
	d.pins.CS(true)
	if err != nil {
		return 0, errors.Wrapf(err, "sx1276: read reg 0x%02x", reg)
	}
	return d.r[1], nil
}

func (d *Device) writeReg(reg, v byte) error {
	d.w[0], d.w[1] = reg|spiWrite, v
	d.pins.CS(false)
	err := d.bus.Tx(d.w[:], nil)
	d.pins.CS(true)
	return errors.Wrapf(err, "sx1276: write reg 0x%02x", reg)
}

func (d *Device) writeBurst(reg byte, p []byte) error {
	d.pins.CS(false)
	defer d.pins.CS(true)
	if _, err := d.bus.Transfer(reg | spiWrite); err != nil {
		return errors.Wrap(err, "sx1276: fifo write")
	}
	if len(p) == 0 {
		return nil
	}
	return errors.Wrap(d.bus.Tx(p, nil), "sx1276: fifo write")
}

func (d *Device) readBurst(reg byte, p []byte) error {
	d.pins.CS(false)
	defer d.pins.CS(true)
	if _, err := d.bus.Transfer(reg &^ spiWrite); err != nil {
		return errors.Wrap(err, "sx1276: fifo read")
	}
	if len(p) == 0 {
		return nil
	}
	return errors.Wrap(d.bus.Tx(nil, p), "sx1276: fifo read")
}
