package lorawan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNetID(t *testing.T) {
	Convey("Given the NetID 600008", t, func() {
		var n NetID
		So(n.UnmarshalText([]byte("600008")), ShouldBeNil)
		So(n, ShouldResemble, NetID{0x60, 0x00, 0x08})

		Convey("Then String returns 600008", func() {
			So(n.String(), ShouldEqual, "600008")
		})

		Convey("Then MarshalBinary returns the reversed bytes", func() {
			b, err := n.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0x08, 0x00, 0x60})
		})

		Convey("Then UnmarshalBinary restores the logical order", func() {
			var out NetID
			So(out.UnmarshalBinary([]byte{0x08, 0x00, 0x60}), ShouldBeNil)
			So(out, ShouldResemble, n)
		})
	})

	Convey("Given a wrong-sized input", t, func() {
		var n NetID
		So(n.UnmarshalText([]byte("60000801")), ShouldNotBeNil)
		So(n.UnmarshalBinary([]byte{1, 2}), ShouldNotBeNil)
	})
}
