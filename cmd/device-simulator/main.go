// Command device-simulator drives a simulated class A end-device against
// a network controller: it performs an OTAA join over the UDP carrier and
// then sends periodic confirmed uplinks, printing the answers it gets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

// Config is the YAML configuration of the simulated device. Identifiers
// and keys are hex strings.
type Config struct {
	DevEUI  string `yaml:"dev_eui"`
	JoinEUI string `yaml:"join_eui"`
	NwkKey  string `yaml:"nwk_key"`
	AppKey  string `yaml:"app_key"`
	Version string `yaml:"version"` // "1.0" or "1.1"

	Controller string   `yaml:"controller"` // host:port of the uplink carrier
	Interval   duration `yaml:"interval"`
	FPort      uint8    `yaml:"fport"`
}

// duration accepts YAML scalars like "30s".
type duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrap(err, "parse duration error")
	}
	*d = duration(v)
	return nil
}

// device builds the simulated device from the configured identity.
func (c Config) device() (*lorawan.Device, error) {
	var devEUI, joinEUI lorawan.EUI64
	var nwkKey, appKey lorawan.AES128Key

	if err := devEUI.UnmarshalText([]byte(c.DevEUI)); err != nil {
		return nil, errors.Wrap(err, "parse dev_eui error")
	}
	if err := joinEUI.UnmarshalText([]byte(c.JoinEUI)); err != nil {
		return nil, errors.Wrap(err, "parse join_eui error")
	}
	if err := nwkKey.UnmarshalText([]byte(c.NwkKey)); err != nil {
		return nil, errors.Wrap(err, "parse nwk_key error")
	}
	if err := appKey.UnmarshalText([]byte(c.AppKey)); err != nil {
		return nil, errors.Wrap(err, "parse app_key error")
	}

	return lorawan.NewDevice(lorawan.ClassA, devEUI, joinEUI, nwkKey, appKey, c.macVersion())
}

func loadConfig(path string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config error")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config error")
	}

	if cfg.Controller == "" {
		cfg.Controller = "127.0.0.1:9090"
	}
	if cfg.Interval == 0 {
		cfg.Interval = duration(30 * time.Second)
	}
	if cfg.FPort == 0 {
		cfg.FPort = 1
	}
	return cfg, nil
}

func (c Config) macVersion() lorawan.MACVersion {
	if c.Version == "1.1" {
		return lorawan.LoRaWAN1_1
	}
	return lorawan.LoRaWAN1_0
}

// envelope wraps a frame into the uplink carrier format.
func envelope(payload []byte) transport.ReceivedTransmission {
	now := uint64(time.Now().UnixMilli())
	return transport.ReceivedTransmission{
		Transmission: transport.Transmission{
			Payload:         payload,
			Frequency:       868_100_000,
			Bandwidth:       transport.BW125,
			SpreadingFactor: 7,
			CodeRate:        transport.CR4_5,
			Uplink:          true,
			StartTime:       now,
			StartingPower:   14,
		},
		ArrivalStats: transport.ArrivalStats{Time: now, RSSI: -95, SNR: 9},
	}
}

func sendEnvelope(ctx context.Context, sender *transport.UDPSender, rt transport.ReceivedTransmission) error {
	// the carrier wraps the whole ReceivedTransmission
	b, err := json.Marshal(rt)
	if err != nil {
		return errors.Wrap(err, "marshal envelope error")
	}
	return sender.Send(ctx, b, nil)
}

// join performs the OTAA exchange and installs the session.
func join(ctx context.Context, device *lorawan.Device, sender *transport.UDPSender, receiver *transport.UDPReceiver) error {
	request, err := device.CreateJoinRequest()
	if err != nil {
		return err
	}
	if err := sendEnvelope(ctx, sender, envelope(request)); err != nil {
		return err
	}

	log.WithField("dev_eui", device.DevEUI).Info("join-request sent, waiting for the accept")

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		received, err := receiver.Receive(ctx, time.Until(deadline))
		if err != nil {
			return err
		}

		for _, rt := range received {
			phy, err := lorawan.DecodePHYPayload(rt.Transmission.Payload, device, false)
			if err != nil {
				log.WithError(err).Debug("ignoring frame")
				continue
			}
			ja, ok := phy.MACPayload.(*lorawan.JoinAcceptPayload)
			if !ok {
				continue
			}

			if err := device.GenerateSessionContext(ja); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"dev_addr": ja.DevAddr,
				"net_id":   ja.HomeNetID,
			}).Info("joined")
			return nil
		}
	}
	return transport.ErrMissingDownlink
}

func main() {
	configPath := flag.String("config", "device.yaml", "configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration failed")
	}

	device, err := cfg.device()
	if err != nil {
		log.WithError(err).Fatal("device construction failed")
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.Controller)
	if err != nil {
		log.WithError(err).Fatal("resolve controller address failed")
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.WithError(err).Fatal("udp dial failed")
	}
	defer conn.Close()

	sender := transport.NewUDPSender(conn)
	receiver := transport.NewUDPReceiver(conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := join(ctx, device, sender, receiver); err != nil {
		log.WithError(err).Fatal("join failed")
	}

	ticker := time.NewTicker(time.Duration(cfg.Interval))
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		seq++
		payload := []byte(fmt.Sprintf("uplink %d", seq))
		frame, err := device.CreateUplink(payload, true, &cfg.FPort, nil)
		if err != nil {
			log.WithError(err).Error("uplink construction failed")
			continue
		}
		if err := sendEnvelope(ctx, sender, envelope(frame)); err != nil {
			log.WithError(err).Error("uplink send failed")
			continue
		}
		log.WithField("fcnt", device.Session.Network.FCntUp).Info("uplink sent")

		received, err := receiver.Receive(ctx, 6*time.Second)
		if err != nil {
			log.Warning("no downlink within the receive window")
			continue
		}
		for _, rt := range received {
			phy, err := lorawan.DecodePHYPayload(rt.Transmission.Payload, device, false)
			if err != nil {
				log.WithError(err).Warning("downlink rejected")
				continue
			}
			if macPL, ok := phy.MACPayload.(*lorawan.MACPayload); ok {
				log.WithFields(log.Fields{
					"ack":     macPL.FHDR.FCtrl.ACK,
					"payload": string(macPL.FRMPayload),
				}).Info("downlink received")
			}
		}
	}
}
