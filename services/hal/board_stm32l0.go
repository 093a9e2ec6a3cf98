//go:build tinygo && stm32l0

package hal

import (
	"machine"

	"tinygo.org/x/drivers/ssd1306"

	"alcosense-go/types"
)

// B-L072Z-LRWAN1 wiring. The SX1276 sits on SPI1 inside the Murata module;
// the breathalyzer shield uses the Arduino header.
const (
	pinButton = int(machine.PA4)
	pinHeater = int(machine.PA5)
	pinBuzzer = int(machine.PA3)
	pinLED    = int(machine.PB2)
	pinDIO0   = int(machine.PB4)
	pinCS     = int(machine.PA15)
	pinReset  = int(machine.PC0)
	pinRxSw   = int(machine.PA1)
	pinTxSw   = int(machine.PC2)
	pinTCXO   = int(machine.PA8)
	pinBoost  = int(machine.PC1)
)

// Open brings up the board described by p.
func Open(p types.Profile) (*Board, error) {
	pins := NewPins(mcuPinFactory{max: int(machine.PC15)})
	b := &Board{Name: "stm32l0", Pins: pins, Timers: NewTimers(p.Timers, false)}

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
	rp, err := claimRadioPins(pins, [5]int{pinCS, pinReset, pinRxSw, pinTxSw, pinTCXO})
	if err != nil {
		return nil, err
	}
	// The PA boost switch follows the TX switch on this module.
	boost, err := claimOut(pins, pinBoost, "radio.boost", false)
	if err != nil {
		return nil, err
	}
	tx := rp.TxSwitch
	rp.TxSwitch = func(level bool) {
		tx(level)
		boost.Set(level)
	}
	b.RadioPins = rp

	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: 8 * machine.MHz,
		SCK:       machine.PB3,
		SDO:       machine.PA7,
		SDI:       machine.PA6,
	}); err != nil {
		return nil, err
	}
	b.Radio = spi

	b.Sensor = newADC(machine.PA2)

	oledBus := machine.SPI1
	if err := oledBus.Configure(machine.SPIConfig{
		Frequency: 4 * machine.MHz,
		SCK:       machine.PB13,
		SDO:       machine.PB15,
	}); err != nil {
		return nil, err
	}
	disp := ssd1306.NewSPI(oledBus, machine.PB8, machine.PB9, machine.NoPin)
	cfg := ssd1306.Config{Width: 128, Height: 64}
	disp.Configure(cfg)
	b.Display = disp
	b.DisplayReinit = func() error {
		disp.Configure(cfg)
		return nil
	}
	return b, nil
}
