package pio

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStepperConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  StepperConfig
		ok   bool
	}{
		{"two pins", StepperConfig{Pins: []int{23, 24}}, true},
		{"four pins", StepperConfig{Pins: []int{5, 6, 13, 19}}, true},
		{"four pins half step", StepperConfig{Pins: []int{5, 6, 13, 19}, HalfStep: true}, true},
		{"two pins half step", StepperConfig{Pins: []int{23, 24}, HalfStep: true}, false},
		{"three pins", StepperConfig{Pins: []int{1, 2, 3}}, false},
		{"no pins", StepperConfig{}, false},
		{"repeated pin", StepperConfig{Pins: []int{4, 4}}, false},
		{"pin out of range", StepperConfig{Pins: []int{4, 54}}, false},
		{"negative pin", StepperConfig{Pins: []int{-1, 4}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestStepper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a four-pin stepper", t, func() {
		m, sim := newTestManager()
		pins := []int{5, 6, 13, 19}
		s, err := NewStepper(ctx, m, StepperConfig{Pins: pins})
		So(err, ShouldBeNil)

		Convey("Construction leaves every pin a low output", func() {
			for _, p := range pins {
				mode, ok := sim.Mode(p)
				So(ok, ShouldBeTrue)
				So(mode, ShouldEqual, Output)
				So(sim.Level(p), ShouldEqual, 0)
			}
		})

		Convey("Each step writes the next phase pattern", func() {
			So(s.Step(true), ShouldBeNil)
			levels := func() []int {
				out := make([]int, len(pins))
				for i, p := range pins {
					out[i] = sim.Level(p)
				}
				return out
			}
			So(levels(), ShouldResemble, []int{0, 1, 1, 0})
			So(s.Step(true), ShouldBeNil)
			So(levels(), ShouldResemble, []int{0, 1, 0, 1})
			So(s.Step(false), ShouldBeNil)
			So(levels(), ShouldResemble, []int{0, 1, 1, 0})
			So(s.Position(), ShouldEqual, 1)
		})

		Convey("Close drives the pins low and releases the handle", func() {
			So(s.Step(true), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			for _, p := range pins {
				So(sim.Level(p), ShouldEqual, 0)
			}
			So(m.Active(), ShouldBeFalse)
		})
	})

	Convey("Bad wiring is refused before the daemon is contacted", t, func() {
		m, sim := newTestManager()
		_, err := NewStepper(ctx, m, StepperConfig{Pins: []int{1, 2, 3}})
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
		So(sim.Dials(), ShouldEqual, 0)
	})

	Convey("A failed set-up gives the handle back", t, func() {
		m, sim := newTestManager()
		sim.FailWritesAfter(1)
		_, err := NewStepper(ctx, m, StepperConfig{Pins: []int{23, 24}})
		So(errors.Is(err, ErrTransport), ShouldBeTrue)
		So(m.Refs(), ShouldEqual, 0)
	})
}

func TestADC(t *testing.T) {
	ctx := context.Background()

	Convey("Given an MCP3008 on the auxiliary bus", t, func() {
		m, sim := newTestManager()
		var sent []byte
		sim.SetSPIResponder(func(cs int, out []byte) []byte {
			sent = append([]byte(nil), out...)
			// 0x3ff with noise in the unused high bits of byte 1.
			return []byte{0xff, 0xff, 0xff}
		})
		adc, err := NewADC(ctx, m, 2, true)
		So(err, ShouldBeNil)
		So(sim.OpenSPIDevices(), ShouldEqual, 1)

		Convey("Read frames the channel and decodes ten bits", func() {
			v, err := adc.Read(5)
			So(err, ShouldBeNil)
			So(sent, ShouldResemble, []byte{1, 0xd0, 0})
			So(v, ShouldEqual, 1023)
		})

		Convey("Mid-scale readings decode from both bytes", func() {
			sim.SetSPIResponder(func(int, []byte) []byte { return []byte{0, 0x02, 0x01} })
			v, err := adc.Read(0)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 513)
		})

		Convey("Channels outside 0-7 are refused", func() {
			_, err := adc.Read(8)
			So(errors.Is(err, ErrConfig), ShouldBeTrue)
			_, err = adc.Read(-1)
			So(errors.Is(err, ErrConfig), ShouldBeTrue)
		})

		Convey("Close closes the device and the connection", func() {
			So(adc.Close(), ShouldBeNil)
			So(sim.OpenSPIDevices(), ShouldEqual, 0)
			So(m.Active(), ShouldBeFalse)
		})
	})

	Convey("Chip select is checked against the bus", t, func() {
		m, sim := newTestManager()
		_, err := NewADC(ctx, m, 2, false)
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
		_, err = NewADC(ctx, m, 3, true)
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
		_, err = NewADC(ctx, m, -1, true)
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
		So(sim.Dials(), ShouldEqual, 0)

		a, err := NewADC(ctx, m, 1, false)
		So(err, ShouldBeNil)
		So(a.Close(), ShouldBeNil)
	})
}

func TestMotor(t *testing.T) {
	ctx := context.Background()

	Convey("Given a motor on pins 20 and 21", t, func() {
		m, sim := newTestManager()
		mo, err := NewMotor(ctx, m, 20, 21, 0)
		So(err, ShouldBeNil)

		Convey("Both pins are set up for PWM and held low", func() {
			for _, p := range []int{20, 21} {
				rng, hz, _ := sim.PWM(p)
				So(rng, ShouldEqual, 100)
				So(hz, ShouldEqual, DefaultMotorFrequency)
				So(sim.Level(p), ShouldEqual, 0)
			}
		})

		Convey("Forward drives pin1 and reverse drives pin2", func() {
			So(mo.Go(60, true), ShouldBeNil)
			_, _, duty := sim.PWM(20)
			So(duty, ShouldEqual, 60)
			So(sim.Level(21), ShouldEqual, 0)

			So(mo.Go(30, false), ShouldBeNil)
			_, _, duty = sim.PWM(21)
			So(duty, ShouldEqual, 30)
			So(sim.Level(20), ShouldEqual, 0)
		})

		Convey("Duty outside 0-100 is refused", func() {
			So(errors.Is(mo.Go(101, true), ErrConfig), ShouldBeTrue)
			So(errors.Is(mo.Go(-1, true), ErrConfig), ShouldBeTrue)
		})

		Convey("Close releases the handle", func() {
			So(mo.Close(), ShouldBeNil)
			So(m.Active(), ShouldBeFalse)
		})
	})

	Convey("The two pins must differ", t, func() {
		m, _ := newTestManager()
		_, err := NewMotor(ctx, m, 20, 20, 0)
		So(errors.Is(err, ErrConfig), ShouldBeTrue)
	})
}

func TestServo(t *testing.T) {
	ctx := context.Background()

	Convey("Positions map onto a 1-2ms pulse", t, func() {
		So(ServoDuty(-100), ShouldEqual, 100)
		So(ServoDuty(0), ShouldEqual, 150)
		So(ServoDuty(100), ShouldEqual, 200)
		So(ServoDuty(50), ShouldEqual, 175)
	})

	Convey("Given a servo on pin 18", t, func() {
		m, sim := newTestManager()
		sv, err := NewServo(ctx, m, 18)
		So(err, ShouldBeNil)

		rng, hz, duty := sim.PWM(18)
		So(rng, ShouldEqual, 2000)
		So(hz, ShouldEqual, 50)
		So(duty, ShouldEqual, 0)

		So(sv.Set(-100), ShouldBeNil)
		_, _, duty = sim.PWM(18)
		So(duty, ShouldEqual, 100)

		So(errors.Is(sv.Set(101), ErrConfig), ShouldBeTrue)

		So(sv.Close(), ShouldBeNil)
		_, _, duty = sim.PWM(18)
		So(duty, ShouldEqual, 0)
		So(m.Active(), ShouldBeFalse)
	})
}
