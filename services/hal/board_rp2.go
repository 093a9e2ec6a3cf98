//go:build tinygo && (rp2040 || rp2350)

package hal

import (
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/ssd1306"

	"alcosense-go/types"
)

// Pico bench rig: RFM95 on SPI0, SSD1306 on I2C0, uplink on UART0.
const (
	pinButton = 14
	pinHeater = 13
	pinBuzzer = 12
	pinLED    = 25
	pinDIO0   = 7
	pinCS     = 8
	pinReset  = 9
	pinRxSw   = 20
	pinTxSw   = 21
	pinTCXO   = 22
)

// Open brings up the board described by p.
func Open(p types.Profile) (*Board, error) {
	pins := NewPins(mcuPinFactory{max: 28})
	b := &Board{Name: "pico", Pins: pins, Timers: NewTimers(p.Timers, false)}

	var err error
	if b.Button, err = claimIn(pins, pinButton, "button", PullUp); err != nil {
		return nil, err
	}
	if b.DIO0, err = claimIn(pins, pinDIO0, "radio.dio0", PullDown); err != nil {
		return nil, err
	}
	if b.Heater, err = claimOut(pins, pinHeater, "heater", p.Sensor.HeaterActiveLow); err != nil {
		return nil, err
	}
	if b.Buzzer, err = claimOut(pins, pinBuzzer, "buzzer", false); err != nil {
		return nil, err
	}
	if b.LED, err = claimOut(pins, pinLED, "led", false); err != nil {
		return nil, err
	}
	if b.RadioPins, err = claimRadioPins(pins, [5]int{pinCS, pinReset, pinRxSw, pinTxSw, pinTCXO}); err != nil {
		return nil, err
	}

	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: 8 * machine.MHz,
		SCK:       machine.GP18,
		SDO:       machine.GP19,
		SDI:       machine.GP16,
	}); err != nil {
		return nil, err
	}
	b.Radio = spi

	b.Sensor = newADC(machine.ADC0)

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	}); err != nil {
		return nil, err
	}
	disp := ssd1306.NewI2C(i2c)
	cfg := ssd1306.Config{Width: 128, Height: 64, Address: 0x3C}
	disp.Configure(cfg)
	b.Display = disp
	b.DisplayReinit = func() error {
		disp.Configure(cfg)
		return nil
	}

	if p.Bridge.Enabled {
		hw := uartx.UART0
		if p.Bridge.TxPin == 4 || p.Bridge.TxPin == 8 {
			hw = uartx.UART1
		}
		// Defaults inside uartx apply if zero.
		if err := hw.Configure(uartx.UARTConfig{
			BaudRate: uint32(p.Bridge.Baud),
			TX:       machine.Pin(p.Bridge.TxPin),
			RX:       machine.Pin(p.Bridge.RxPin),
		}); err != nil {
			return nil, err
		}
		if _, err := pins.Claim(p.Bridge.TxPin, "uplink.tx"); err != nil {
			return nil, err
		}
		if _, err := pins.Claim(p.Bridge.RxPin, "uplink.rx"); err != nil {
			return nil, err
		}
		b.Uplink = hw
	}
	return b, nil
}
