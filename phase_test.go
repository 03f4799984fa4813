package pio

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPhaseSequencerWiring(t *testing.T) {
	tests := []struct {
		pins     int
		halfStep bool
		length   int
		ok       bool
	}{
		{2, false, 4, true},
		{4, false, 4, true},
		{4, true, 8, true},
		{2, true, 0, false},
		{3, false, 0, false},
		{0, false, 0, false},
		{8, true, 0, false},
	}
	for _, tt := range tests {
		s, err := NewPhaseSequencer(tt.pins, tt.halfStep)
		if !tt.ok {
			if !errors.Is(err, ErrConfig) {
				t.Errorf("NewPhaseSequencer(%d, %v) error = %v, want ErrConfig", tt.pins, tt.halfStep, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewPhaseSequencer(%d, %v): %v", tt.pins, tt.halfStep, err)
		}
		if s.Len() != tt.length || s.Pins() != tt.pins || s.Index() != 0 {
			t.Errorf("NewPhaseSequencer(%d, %v) = len %d pins %d index %d", tt.pins, tt.halfStep, s.Len(), s.Pins(), s.Index())
		}
	}
}

func TestPhaseSequencer(t *testing.T) {
	Convey("Given a four-pin full-step sequencer", t, func() {
		s, err := NewPhaseSequencer(4, false)
		So(err, ShouldBeNil)

		Convey("Forward steps follow the coil order and wrap", func() {
			So(s.Current(), ShouldResemble, []int{1, 0, 1, 0})
			So(s.Advance(true), ShouldResemble, []int{0, 1, 1, 0})
			So(s.Advance(true), ShouldResemble, []int{0, 1, 0, 1})
			So(s.Advance(true), ShouldResemble, []int{1, 0, 0, 1})
			So(s.Advance(true), ShouldResemble, []int{1, 0, 1, 0})
			So(s.Index(), ShouldEqual, 0)
		})

		Convey("A backward step from the start wraps to the last phase", func() {
			So(s.Advance(false), ShouldResemble, []int{1, 0, 0, 1})
			So(s.Index(), ShouldEqual, 3)
		})
	})

	Convey("For every wiring", t, func() {
		for _, w := range []struct {
			pins     int
			halfStep bool
		}{{2, false}, {4, false}, {4, true}} {
			s, err := NewPhaseSequencer(w.pins, w.halfStep)
			So(err, ShouldBeNil)

			Convey(fmt.Sprintf("advancing Len times returns to the start (%d pins, half %v)", w.pins, w.halfStep), func() {
				for i := 0; i < s.Len(); i++ {
					p := s.Advance(true)
					So(len(p), ShouldEqual, w.pins)
				}
				So(s.Index(), ShouldEqual, 0)
			})

			Convey(fmt.Sprintf("forward then backward round-trips (%d pins, half %v)", w.pins, w.halfStep), func() {
				for i := 0; i < 3; i++ {
					s.Advance(true)
				}
				before := append([]int(nil), s.Current()...)
				s.Advance(true)
				So(s.Advance(false), ShouldResemble, before)
				So(s.Index(), ShouldEqual, 3)
			})
		}
	})

	Convey("Two-pin full steps", t, func() {
		s, _ := NewPhaseSequencer(2, false)
		var got [][]int
		for i := 0; i < 4; i++ {
			got = append(got, s.Advance(true))
		}
		So(got, ShouldResemble, [][]int{{0, 1}, {0, 0}, {1, 0}, {1, 1}})
	})

	Convey("Half steps interleave single and paired coils", t, func() {
		s, _ := NewPhaseSequencer(4, true)
		So(s.Current(), ShouldResemble, []int{1, 0, 0, 0})
		So(s.Advance(true), ShouldResemble, []int{1, 0, 1, 0})
		So(s.Advance(true), ShouldResemble, []int{0, 0, 1, 0})
		So(s.Advance(false), ShouldResemble, []int{1, 0, 1, 0})
	})
}
