package lorawan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEUI64(t *testing.T) {
	Convey("Given an empty EUI64", t, func() {
		var eui EUI64

		Convey("When the value is EUI64{1, 2, 3, 4, 5, 6, 7, 8}", func() {
			eui = EUI64{1, 2, 3, 4, 5, 6, 7, 8}

			Convey("Then MarshalText returns 0102030405060708", func() {
				b, err := eui.MarshalText()
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, "0102030405060708")
			})

			Convey("Then MarshalBinary returns the reversed bytes", func() {
				b, err := eui.MarshalBinary()
				So(err, ShouldBeNil)
				So(b, ShouldResemble, []byte{8, 7, 6, 5, 4, 3, 2, 1})
			})
		})

		Convey("Given the string 0102030405060708", func() {
			So(eui.UnmarshalText([]byte("0102030405060708")), ShouldBeNil)
			So(eui, ShouldResemble, EUI64{1, 2, 3, 4, 5, 6, 7, 8})
		})

		Convey("Given the slice []byte{8, 7, 6, 5, 4, 3, 2, 1}", func() {
			So(eui.UnmarshalBinary([]byte{8, 7, 6, 5, 4, 3, 2, 1}), ShouldBeNil)
			So(eui, ShouldResemble, EUI64{1, 2, 3, 4, 5, 6, 7, 8})
		})

		Convey("Then a short hex string is rejected", func() {
			So(eui.UnmarshalText([]byte("010203")), ShouldNotBeNil)
		})
	})
}

func TestDevAddrEncoding(t *testing.T) {
	Convey("Given the DevAddr e0113b2a", t, func() {
		var addr DevAddr
		So(addr.UnmarshalText([]byte("e0113b2a")), ShouldBeNil)

		Convey("Then the wire form is reversed", func() {
			b, err := addr.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0x2a, 0x3b, 0x11, 0xe0})
		})

		Convey("Then binary decode restores the logical order", func() {
			var out DevAddr
			So(out.UnmarshalBinary([]byte{0x2a, 0x3b, 0x11, 0xe0}), ShouldBeNil)
			So(out, ShouldResemble, addr)
			So(out.String(), ShouldEqual, "e0113b2a")
		})
	})
}

func TestNoncesEncoding(t *testing.T) {
	Convey("Given DevNonce 9138", t, func() {
		n := DevNonce(9138)

		Convey("Then the wire form is little-endian", func() {
			b, err := n.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0xb2, 0x23})

			var out DevNonce
			So(out.UnmarshalBinary(b), ShouldBeNil)
			So(out, ShouldEqual, n)
		})
	})

	Convey("Given JoinNonce 0x4095a6", t, func() {
		n := JoinNonce(0x4095a6)

		Convey("Then the wire form is 3 bytes little-endian", func() {
			b, err := n.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0xa6, 0x95, 0x40})

			var out JoinNonce
			So(out.UnmarshalBinary(b), ShouldBeNil)
			So(out, ShouldEqual, n)
		})

		Convey("Then a value beyond 24 bits is rejected", func() {
			_, err := JoinNonce(1 << 24).MarshalBinary()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDataPayload(t *testing.T) {
	Convey("Given a DataPayload", t, func() {
		p := DataPayload{Bytes: []byte{1, 2, 3}}

		b, err := p.MarshalBinary()
		So(err, ShouldBeNil)
		So(b, ShouldResemble, []byte{1, 2, 3})

		var out DataPayload
		So(out.UnmarshalBinary(true, b), ShouldBeNil)
		So(out.Bytes, ShouldResemble, p.Bytes)
	})
}
