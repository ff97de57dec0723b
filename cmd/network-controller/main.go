// Command network-controller runs one LoRaWAN network controller: it
// receives uplinks over UDP, serves joins and data frames against the
// ledger, deduplicates uplinks with its peers and emits the scheduled
// downlinks.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/DeLoRaN-Org/lorawan-backend/consensus"
	"github.com/DeLoRaN-Org/lorawan-backend/controller"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger/redisledger"
	"github.com/DeLoRaN-Org/lorawan-backend/transport"
)

// duration accepts YAML scalars like "300ms".
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

// Config is the YAML configuration of the controller process.
type Config struct {
	ID       string   `yaml:"id"`
	NCList   []string `yaml:"nc_list"`
	LogLevel string   `yaml:"log_level"`

	UDP struct {
		Listen string `yaml:"listen"`
	} `yaml:"udp"`

	Consensus struct {
		Listen       string   `yaml:"listen"`
		CACert       string   `yaml:"ca_cert"`
		TLSCert      string   `yaml:"tls_cert"`
		TLSKey       string   `yaml:"tls_key"`
		RPCTimeout   duration `yaml:"rpc_timeout"`
		RoundTimeout duration `yaml:"round_timeout"`
	} `yaml:"consensus"`

	Redis redisledger.Config `yaml:"redis"`
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

	if cfg.ID == "" {
		return cfg, errors.New("config: id is required")
	}
	if cfg.UDP.Listen == "" {
		cfg.UDP.Listen = "0.0.0.0:9090"
	}
	if cfg.Redis.NCID == "" {
		cfg.Redis.NCID = cfg.ID
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "network-controller.yaml", "configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration failed")
	}

	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := redisledger.New(cfg.Redis)
	defer lc.Close()

	engine := consensus.NewEngine(consensus.Config{
		ID:           cfg.ID,
		ListenAddr:   cfg.Consensus.Listen,
		CACert:       cfg.Consensus.CACert,
		TLSCert:      cfg.Consensus.TLSCert,
		TLSKey:       cfg.Consensus.TLSKey,
		RPCTimeout:   time.Duration(cfg.Consensus.RPCTimeout),
		RoundTimeout: time.Duration(cfg.Consensus.RoundTimeout),
	})

	go func() {
		if err := engine.ListenAndServe(ctx); err != nil {
			log.WithError(err).Fatal("consensus server failed")
		}
	}()

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.UDP.Listen)
	if err != nil {
		log.WithError(err).Fatal("resolve udp listen address failed")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.WithError(err).Fatal("udp listen failed")
	}
	defer conn.Close()

	scheduler := controller.NewDownlinkScheduler(transport.NewUDPSender(conn))
	go scheduler.Run(ctx)

	dispatcher := controller.NewDispatcher(controller.Config{
		NCID:   cfg.ID,
		NCList: cfg.NCList,
	}, lc, engine, scheduler)

	log.WithFields(log.Fields{
		"nc_id": cfg.ID,
		"udp":   cfg.UDP.Listen,
	}).Info("network controller started")

	if err := dispatcher.Run(ctx, transport.NewUDPReceiver(conn)); err != nil {
		log.WithError(err).Fatal("dispatcher failed")
	}
}
