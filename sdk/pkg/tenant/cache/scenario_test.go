package cache

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCacheScenario(t *testing.T) {
	Convey("max_size=2, ttl=300s 的租户缓存", t, func() {
		c := New(2, 300*time.Second)

		Convey("set a, set b, get a, set c 之后", func() {
			c.Set("a", rec("a"))
			c.Set("b", rec("b"))
			_, hitA := c.Get("a")
			c.Set("c", rec("c"))
			_, hitB := c.Get("b")

			So(hitA, ShouldBeTrue)
			So(hitB, ShouldBeFalse)

			s := c.Stats()
			So(s.Hits, ShouldEqual, 1)
			So(s.Misses, ShouldEqual, 1)
			So(s.Evictions, ShouldEqual, 1)
			So(s.Size, ShouldEqual, 2)
			So(s.HitRate, ShouldEqual, 50.0)
		})
	})
}
