package lorawan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMHDR(t *testing.T) {
	Convey("Given an empty MHDR", t, func() {
		var h MHDR

		Convey("Then MarshalBinary returns []byte{0}", func() {
			b, err := h.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0})
		})

		Convey("Given MType=Proprietary, Major=LoRaWANR1", func() {
			h.MType = Proprietary
			h.Major = LoRaWANR1

			Convey("Then MarshalBinary returns []byte{224}", func() {
				b, err := h.MarshalBinary()
				So(err, ShouldBeNil)
				So(b, ShouldResemble, []byte{224})
			})
		})

		Convey("Given the byte 0x40", func() {
			Convey("Then UnmarshalBinary returns UnconfirmedDataUp", func() {
				So(h.UnmarshalBinary([]byte{0x40}), ShouldBeNil)
				So(h.MType, ShouldEqual, UnconfirmedDataUp)
				So(h.Major, ShouldEqual, LoRaWANR1)
			})
		})
	})
}

func TestMTypeDirection(t *testing.T) {
	Convey("Given all message types", t, func() {
		up := []MType{JoinRequest, UnconfirmedDataUp, ConfirmedDataUp, RejoinRequest, Proprietary}
		down := []MType{JoinAccept, UnconfirmedDataDown, ConfirmedDataDown}

		for _, m := range up {
			So(m.IsUplink(), ShouldBeTrue)
		}
		for _, m := range down {
			So(m.IsUplink(), ShouldBeFalse)
		}

		Convey("Then the join flow is identified", func() {
			So(JoinRequest.IsJoinOrRejoin(), ShouldBeTrue)
			So(JoinAccept.IsJoinOrRejoin(), ShouldBeTrue)
			So(RejoinRequest.IsJoinOrRejoin(), ShouldBeTrue)
			So(UnconfirmedDataUp.IsJoinOrRejoin(), ShouldBeFalse)
		})
	})
}
