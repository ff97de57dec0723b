// Package redisledger implements the ledger contract over Redis. It is
// the reference client for development deployments: device records are
// JSON values, uplinks are appended to a list and the join election is a
// SETNX race on the join-request hash.
package redisledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger"
)

const (
	deviceKeyPrefix  = "lorawan:device:"
	sessionKeyPrefix = "lorawan:session:"
	packetKeyPrefix  = "lorawan:packet:"
	joinKeyPrefix    = "lorawan:join:"
	packetListKey    = "lorawan:packets"
	orgKeyPrefix     = "lorawan:org:"

	// joinElectionTTL bounds the SETNX election claims so a crashed
	// responder does not block the device forever.
	joinElectionTTL = 30 * time.Second
)

// Config holds the client configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// NCID identifies this controller in join elections.
	NCID string `yaml:"nc_id"`
}

// Client is a ledger.Client over Redis.
type Client struct {
	redis *redis.Client
	ncID  string
}

// New creates a Client.
func New(cfg Config) *Client {
	return &Client{
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ncID: cfg.NCID,
	}
}

// NewWithRedis wraps an existing Redis client.
func NewWithRedis(rdb *redis.Client, ncID string) *Client {
	return &Client{redis: rdb, ncID: ncID}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.redis.Close()
}

func (c *Client) getJSON(ctx context.Context, key string, v interface{}) error {
	b, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ledger.NewError(ledger.KindNotFound, key)
	}
	if err != nil {
		return ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		return ledger.NewError(ledger.KindEncoding, err.Error())
	}
	return nil
}

func (c *Client) setJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return ledger.NewError(ledger.KindEncoding, err.Error())
	}
	if err := c.redis.Set(ctx, key, b, 0).Err(); err != nil {
		return ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return nil
}

// GetDeviceConfig implements ledger.Client.
func (c *Client) GetDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) (ledger.DeviceConfig, error) {
	var cfg ledger.DeviceConfig
	err := c.getJSON(ctx, deviceKeyPrefix+devEUI.String(), &cfg)
	return cfg, err
}

// GetDeviceSession implements ledger.Client.
func (c *Client) GetDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) (ledger.DeviceSession, error) {
	var s ledger.DeviceSession
	err := c.getJSON(ctx, sessionKeyPrefix+devAddr.String(), &s)
	return s, err
}

// CreateDeviceConfig implements ledger.Client.
func (c *Client) CreateDeviceConfig(ctx context.Context, cfg ledger.DeviceConfig) error {
	return c.setJSON(ctx, deviceKeyPrefix+cfg.DevEUI.String(), cfg)
}

// DeleteDeviceConfig implements ledger.Client.
func (c *Client) DeleteDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) error {
	if err := c.redis.Del(ctx, deviceKeyPrefix+devEUI.String()).Err(); err != nil {
		return ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return nil
}

// DeleteDeviceSession implements ledger.Client.
func (c *Client) DeleteDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) error {
	if err := c.redis.Del(ctx, sessionKeyPrefix+devAddr.String()).Err(); err != nil {
		return ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return nil
}

// CreateUplink implements ledger.Client.
func (c *Client) CreateUplink(ctx context.Context, packet []byte, answer []byte) error {
	record := ledger.PacketRecord{
		Hash:      ledger.PacketHash(packet),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Length:    uint32(len(packet)),
		Packet:    packet,
		Answer:    answer,
	}

	if err := c.setJSON(ctx, packetKeyPrefix+record.Hash, record); err != nil {
		return err
	}
	if err := c.redis.RPush(ctx, packetListKey, record.Hash).Err(); err != nil {
		return ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return nil
}

// JoinProcedure implements ledger.Client: the first controller to claim
// the join-request hash is the elected responder.
func (c *Client) JoinProcedure(ctx context.Context, joinRequest, joinAccept []byte, devEUI lorawan.EUI64) (bool, error) {
	key := joinKeyPrefix + ledger.PacketHash(joinRequest)

	elected, err := c.redis.SetNX(ctx, key, c.ncID, joinElectionTTL).Result()
	if err != nil {
		return false, ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return elected, nil
}

// SessionGeneration implements ledger.Client.
func (c *Client) SessionGeneration(ctx context.Context, session ledger.DeviceSession, devEUI lorawan.EUI64) error {
	session.DevEUI = devEUI
	return c.setJSON(ctx, sessionKeyPrefix+session.DevAddr.String(), session)
}

// GetPacket implements ledger.Client.
func (c *Client) GetPacket(ctx context.Context, hash string) (ledger.PacketRecord, error) {
	var record ledger.PacketRecord
	err := c.getJSON(ctx, packetKeyPrefix+hash, &record)
	return record, err
}

// GetAllDevices implements ledger.Client.
func (c *Client) GetAllDevices(ctx context.Context) ([]ledger.DeviceConfig, error) {
	var out []ledger.DeviceConfig

	iter := c.redis.Scan(ctx, 0, deviceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		var cfg ledger.DeviceConfig
		if err := c.getJSON(ctx, iter.Val(), &cfg); err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := iter.Err(); err != nil {
		return nil, ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return out, nil
}

// GetDeviceOrg implements ledger.Client.
func (c *Client) GetDeviceOrg(ctx context.Context, devID []byte) (string, error) {
	org, err := c.redis.Get(ctx, orgKeyPrefix+string(devID)).Result()
	if err == redis.Nil {
		return "", ledger.NewError(ledger.KindNotFound, string(devID))
	}
	if err != nil {
		return "", ledger.NewError(ledger.KindUnavailable, err.Error())
	}
	return org, nil
}
