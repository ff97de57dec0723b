package lorawan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMACPayload(t *testing.T) {
	Convey("Given a MACPayload with FPort and FRMPayload", t, func() {
		fPort := uint8(3)
		p := MACPayload{
			FHDR: FHDR{
				DevAddr: DevAddr{1, 2, 3, 4},
				FCnt:    7,
			},
			FPort:      &fPort,
			FRMPayload: []byte{0xaa, 0xbb},
		}

		Convey("Then MarshalBinary emits FHDR, FPort, FRMPayload", func() {
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x07, 0x00, 0x03, 0xaa, 0xbb})
		})

		Convey("Then UnmarshalBinary restores the fields", func() {
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)

			var out MACPayload
			So(out.UnmarshalBinary(true, b), ShouldBeNil)
			So(out.FHDR.DevAddr, ShouldResemble, p.FHDR.DevAddr)
			So(*out.FPort, ShouldEqual, 3)
			So(out.FRMPayload, ShouldResemble, p.FRMPayload)
		})
	})

	Convey("Given a frame with FOpts and no FPort", t, func() {
		var p MACPayload
		So(p.UnmarshalBinary(true, []byte{1, 2, 3, 4, 0x02, 0x05, 0x00, 0x02, 0x06}), ShouldBeNil)
		So(p.FHDR.FOpts, ShouldResemble, []byte{0x02, 0x06})
		So(p.FPort, ShouldBeNil)
		So(p.FRMPayload, ShouldBeNil)
	})

	Convey("Given a frame with FPort and no FRMPayload", t, func() {
		var p MACPayload
		So(p.UnmarshalBinary(true, []byte{1, 2, 3, 4, 0x00, 0x05, 0x00, 0x01}), ShouldBeNil)
		So(p.FPort, ShouldNotBeNil)
		So(*p.FPort, ShouldEqual, 1)
		So(p.FRMPayload, ShouldBeNil)
	})

	Convey("Given incoherent construction inputs", t, func() {
		Convey("Then FRMPayload without FPort fails validation", func() {
			p := MACPayload{FRMPayload: []byte{1}}
			So(p.validate(), ShouldEqual, ErrFPortInvalidValue)
		})

		Convey("Then FPort without FRMPayload fails validation", func() {
			fPort := uint8(2)
			p := MACPayload{FPort: &fPort}
			So(p.validate(), ShouldEqual, ErrFPortInvalidValue)
		})

		Convey("Then FPort 0 with FOpts fails validation", func() {
			fPort := uint8(0)
			p := MACPayload{FPort: &fPort, FRMPayload: []byte{1}}
			p.FHDR.SetFOpts([]byte{0x02})
			So(p.validate(), ShouldEqual, ErrFPortInvalidValue)
		})

		Convey("Then FPort 0 with empty FOpts and FRMPayload is valid", func() {
			fPort := uint8(0)
			p := MACPayload{FPort: &fPort, FRMPayload: []byte{1}}
			So(p.validate(), ShouldBeNil)
		})
	})
}

func TestEncryptFRMPayload(t *testing.T) {
	Convey("Given a key, DevAddr and counter", t, func() {
		key := mustKey("5560cc0b0dc37bebbfb39acd337dd34d")
		devAddr := DevAddr{0xe0, 0x11, 0x3b, 0x2a}
		plain := []byte("ciao mamma guarda come mi diverto")

		Convey("Then encrypt is its own inverse", func() {
			ct, err := EncryptFRMPayload(key, true, devAddr, 13, plain)
			So(err, ShouldBeNil)
			So(ct, ShouldHaveLength, len(plain))
			So(ct, ShouldNotResemble, plain)

			pt, err := EncryptFRMPayload(key, true, devAddr, 13, ct)
			So(err, ShouldBeNil)
			So(pt, ShouldResemble, plain)
		})

		Convey("Then the direction changes the keystream", func() {
			up, err := EncryptFRMPayload(key, true, devAddr, 13, plain)
			So(err, ShouldBeNil)
			down, err := EncryptFRMPayload(key, false, devAddr, 13, plain)
			So(err, ShouldBeNil)
			So(up, ShouldNotResemble, down)
		})

		Convey("Then the counter changes the keystream", func() {
			a, err := EncryptFRMPayload(key, true, devAddr, 13, plain)
			So(err, ShouldBeNil)
			b, err := EncryptFRMPayload(key, true, devAddr, 14, plain)
			So(err, ShouldBeNil)
			So(a, ShouldNotResemble, b)
		})
	})
}

func TestEncryptFOpts(t *testing.T) {
	Convey("Given FOpts bytes", t, func() {
		key := mustKey("75c3eb8ba73c9a0d5f74bb3e02e7ef9e")
		devAddr := DevAddr{0xe0, 0x11, 0x3b, 0x2a}
		fOpts := []byte{0x02, 0x06, 0x00}

		Convey("Then encrypt is its own inverse", func() {
			ct, err := EncryptFOpts(key, true, devAddr, 5, fOpts)
			So(err, ShouldBeNil)
			So(ct, ShouldHaveLength, len(fOpts))

			pt, err := EncryptFOpts(key, true, devAddr, 5, ct)
			So(err, ShouldBeNil)
			So(pt, ShouldResemble, fOpts)
		})

		Convey("Then more than 15 bytes are rejected", func() {
			_, err := EncryptFOpts(key, true, devAddr, 5, make([]byte, 16))
			So(err, ShouldNotBeNil)
		})
	})
}
