//go:build rp2040

// Firmware for an RP2040 converter board: three half bridges on PWM slices
// 0-2, low side sensing on ADC0/ADC1, an INA260 on the high side bus and the
// operator console on the default serial port.
package main

import (
	"machine"
	"time"

	"goverter/core"
)

const (
	switchingHz = 50000
	busPoll     = 2 * time.Millisecond
)

func main() {
	// clear any watchdog state left from before a reset
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High()

	serial := machine.Serial
	serial.Configure(machine.UARTConfig{BaudRate: 115200})

	i2c := machine.I2C0
	var bus *busMonitor
	if err := i2c.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz}); err != nil {
		println("i2c:", err.Error())
	} else {
		bus = newBusMonitor(i2c)
		go bus.run(busPoll)
	}

	settings := core.DefaultSettings()
	settings.Calibration = adcCalibration()
	// stepped from an interrupt, the counters in Stats replace the events
	settings.NoEvents = true

	ctrl, err := core.NewController(newPWMStage(switchingHz), newBoardSensor(bus), settings)
	if err != nil {
		halt("controller: " + err.Error())
	}

	con := &keyConsole{uart: serial, out: serial, setp: ctrl.Setpoints()}
	con.handle('h')

	startTicker(ctrl.Period(), ctrl.Step, ctrl.NoteOverrun)
	runBackground(con.task(), statusTask(ctrl, led, serial))
}

// halt reports a fatal error forever, blinking fast
func halt(msg string) {
	for {
		println(msg)
		machine.LED.Set(!machine.LED.Get())
		time.Sleep(100 * time.Millisecond)
	}
}
