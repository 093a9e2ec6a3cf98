package sx1276

// Registers (LoRa mode).
const (
	regFifo              = 0x00
	regOpMode            = 0x01
	regFrfMsb            = 0x06
	regFrfMid            = 0x07
	regFrfLsb            = 0x08
	regPaConfig          = 0x09
	regOcp               = 0x0B
	regLna               = 0x0C
	regFifoAddrPtr       = 0x0D
	regFifoTxBaseAddr    = 0x0E
	regFifoRxBaseAddr    = 0x0F
	regFifoRxCurrentAddr = 0x10
	regIrqFlagsMask      = 0x11
	regIrqFlags          = 0x12
	regRxNbBytes         = 0x13
	regPktSnrValue       = 0x19
	regPktRssiValue      = 0x1A
	regModemConfig1      = 0x1D
	regModemConfig2      = 0x1E
	regPreambleMsb       = 0x20
	regPreambleLsb       = 0x21
	regPayloadLength     = 0x22
	regModemConfig3      = 0x26
	regSyncWord          = 0x39
	regDioMapping1       = 0x40
	regVersion           = 0x42
	regPaDac             = 0x4D
)

const chipVersion byte = 0x12

// RegOpMode bits.
const (
	modeLongRange    = 0x80
	modeSleep        = 0x00
	modeStandby      = 0x01
	modeTx           = 0x03
	modeRxContinuous = 0x05
	modeMask         = 0x07
)

// RegIrqFlags bits.
const (
	irqRxTimeout = 0x80
	irqRxDone    = 0x40
	irqCrcError  = 0x20
	irqValidHdr  = 0x10
	irqTxDone    = 0x08
	irqAll       = 0xFF
)

// RegDioMapping1 DIO0 selections.
const (
	dio0RxDone = 0x00
	dio0TxDone = 0x40
	dio0Mask   = 0xC0
)

const (
	spiWrite  = 0x80
	fxosc     = 32_000_000
	fifoSize  = 256
	maxPacket = 255
)
