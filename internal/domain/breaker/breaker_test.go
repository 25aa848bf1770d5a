package breaker

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker(t *testing.T) {
	Convey("Given a breaker with threshold 3, open 100ms and 2 probes", t, func() {
		c := &clock{t: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)}
		var changes []string
		b := New("opta", Config{FailureThreshold: 3, OpenFor: 100 * time.Millisecond, HalfOpenProbes: 2},
			WithClock(c.now),
			WithStateChange(func(_ string, from, to State) { changes = append(changes, from.String()+">"+to.String()) }))

		fail := func(n int) {
			for i := 0; i < n; i++ {
				So(b.Allow(), ShouldBeNil)
				b.Failure()
			}
		}

		Convey("When fewer than threshold consecutive failures occur", func() {
			fail(2)
			So(b.Allow(), ShouldBeNil)
			b.Success()
			fail(2)

			Convey("Then it stays closed because a success resets the count", func() {
				So(b.State(), ShouldEqual, Closed)
			})
		})

		Convey("When the threshold is reached", func() {
			fail(3)

			Convey("Then it opens and rejects calls", func() {
				So(b.State(), ShouldEqual, Open)
				So(b.Allow(), ShouldEqual, ErrOpen)
				So(b.Until(), ShouldEqual, 100*time.Millisecond)
			})

			Convey("Then after the open period it admits exactly the probes", func() {
				c.add(100 * time.Millisecond)
				So(b.State(), ShouldEqual, HalfOpen)
				So(b.Allow(), ShouldBeNil)
				So(b.Allow(), ShouldBeNil)
				So(b.Allow(), ShouldEqual, ErrOpen)

				Convey("And a probe success closes it", func() {
					b.Success()
					So(b.State(), ShouldEqual, Closed)
					So(changes, ShouldResemble, []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"})
				})

				Convey("And a probe failure re-opens it", func() {
					b.Failure()
					So(b.State(), ShouldEqual, Open)
					So(b.Until(), ShouldEqual, 100*time.Millisecond)
				})
			})
		})
	})

	Convey("Given a zero config", t, func() {
		b := New("x", Config{})

		Convey("Then defaults apply", func() {
			So(b.cfg, ShouldResemble, DefaultConfig())
			So(b.Name(), ShouldEqual, "x")
			So(b.Until(), ShouldEqual, 0)
		})
	})
}
