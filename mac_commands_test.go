package lorawan

import (
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMACCommandRoundTrip(t *testing.T) {
	Convey("Given a downlink MAC command stream", t, func() {
		cmds := []MACCommand{
			{CID: LinkADRReqCID, Payload: &LinkADRReqPayload{DataRate: 5, TXPower: 2, ChMask: 0x00ff, ChMaskCntl: 0, NbTrans: 1}},
			{CID: DevStatusReqCID},
			{CID: RXParamSetupReqCID, Payload: &RXParamSetupReqPayload{RX1DROffset: 1, RX2DataRate: 2, Frequency: 868100000}},
			{CID: DeviceTimeAnsCID, Payload: &DeviceTimeAnsPayload{Epoch: 1234567, SecondFraction: 128}},
		}

		b, err := EncodeMACCommands(cmds)
		So(err, ShouldBeNil)

		Convey("Then decoding restores the commands", func() {
			out, err := DecodeMACCommands(false, b)
			So(err, ShouldBeNil)
			So(out, ShouldResemble, cmds)
		})
	})

	Convey("Given an uplink MAC command stream", t, func() {
		cmds := []MACCommand{
			{CID: LinkCheckReqCID},
			{CID: LinkADRAnsCID, Payload: &LinkADRAnsPayload{PowerACK: true, DataRateACK: true, ChannelMaskACK: true}},
			{CID: DevStatusAnsCID, Payload: &DevStatusAnsPayload{Battery: 254, Margin: -12}},
			{CID: RekeyIndCID, Payload: &VersionPayload{Minor: 1}},
		}

		b, err := EncodeMACCommands(cmds)
		So(err, ShouldBeNil)

		out, err := DecodeMACCommands(true, b)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, cmds)
	})
}

func TestMACCommandErrors(t *testing.T) {
	Convey("Given malformed MAC command streams", t, func() {
		Convey("Then a truncated payload is rejected", func() {
			_, err := DecodeMACCommands(false, []byte{byte(LinkADRReqCID), 0x01})
			So(errors.Is(err, ErrMalformedMACCommand), ShouldBeTrue)
		})

		Convey("Then an unknown CID is rejected", func() {
			_, err := DecodeMACCommands(true, []byte{0x7f})
			So(errors.Is(err, ErrMalformedMACCommand), ShouldBeTrue)
		})

		Convey("Then a direction mismatch is rejected", func() {
			// LinkADRReq is downlink-only
			_, err := DecodeMACCommands(true, []byte{byte(LinkADRReqCID), 0, 0, 0, 0})
			So(errors.Is(err, ErrMalformedMACCommand), ShouldBeTrue)
		})
	})
}

func TestFrequencyEncoding(t *testing.T) {
	Convey("Given channel frequencies", t, func() {
		Convey("Then a 100 Hz multiple round-trips", func() {
			p := NewChannelReqPayload{ChIndex: 3, Frequency: 868100000, MaxDR: 5, MinDR: 0}
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)

			var out NewChannelReqPayload
			So(out.UnmarshalBinary(b), ShouldBeNil)
			So(out, ShouldResemble, p)
		})

		Convey("Then a non-multiple of 100 is rejected", func() {
			p := DLChannelReqPayload{Frequency: 868100050}
			_, err := p.MarshalBinary()
			So(err, ShouldNotBeNil)
		})

		Convey("Then an out-of-range frequency is rejected", func() {
			p := BeaconFreqReqPayload{Frequency: math.MaxUint32}
			_, err := p.MarshalBinary()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDevStatusMargin(t *testing.T) {
	Convey("Given margins across the signed range", t, func() {
		for _, margin := range []int8{-32, -1, 0, 7, 31} {
			p := DevStatusAnsPayload{Battery: 10, Margin: margin}
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)

			var out DevStatusAnsPayload
			So(out.UnmarshalBinary(b), ShouldBeNil)
			So(out.Margin, ShouldEqual, margin)
		}
	})
}
