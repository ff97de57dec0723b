// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"sync"

	lorawan "github.com/DeLoRaN-Org/lorawan-backend"
	"github.com/DeLoRaN-Org/lorawan-backend/ledger"
)

// Client is an in-memory ledger.Client. The zero value is not usable;
// call New.
type Client struct {
	mu sync.Mutex

	configs  map[lorawan.EUI64]ledger.DeviceConfig
	sessions map[lorawan.DevAddr]ledger.DeviceSession
	packets  map[string]ledger.PacketRecord
	joins    map[string]string
	orgs     map[string]string

	// ElectedResponder controls JoinProcedure's verdict.
	ElectedResponder bool

	// NCID identifies this controller in join elections.
	NCID string

	// Uplinks records every CreateUplink call in order.
	Uplinks []ledger.PacketRecord
}

// New creates an empty in-memory ledger.
func New(ncID string) *Client {
	return &Client{
		configs:          make(map[lorawan.EUI64]ledger.DeviceConfig),
		sessions:         make(map[lorawan.DevAddr]ledger.DeviceSession),
		packets:          make(map[string]ledger.PacketRecord),
		joins:            make(map[string]string),
		orgs:             make(map[string]string),
		ElectedResponder: true,
		NCID:             ncID,
	}
}

// GetDeviceConfig implements ledger.Client.
func (c *Client) GetDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) (ledger.DeviceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[devEUI]
	if !ok {
		return cfg, ledger.NewError(ledger.KindNotFound, devEUI.String())
	}
	return cfg, nil
}

// GetDeviceSession implements ledger.Client.
func (c *Client) GetDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) (ledger.DeviceSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[devAddr]
	if !ok {
		return s, ledger.NewError(ledger.KindNotFound, devAddr.String())
	}
	return s, nil
}

// CreateDeviceConfig implements ledger.Client.
func (c *Client) CreateDeviceConfig(ctx context.Context, cfg ledger.DeviceConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.DevEUI] = cfg
	return nil
}

// DeleteDeviceConfig implements ledger.Client.
func (c *Client) DeleteDeviceConfig(ctx context.Context, devEUI lorawan.EUI64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.configs, devEUI)
	return nil
}

// DeleteDeviceSession implements ledger.Client.
func (c *Client) DeleteDeviceSession(ctx context.Context, devAddr lorawan.DevAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, devAddr)
	return nil
}

// CreateUplink implements ledger.Client.
func (c *Client) CreateUplink(ctx context.Context, packet []byte, answer []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := ledger.PacketRecord{
		Hash:   ledger.PacketHash(packet),
		Length: uint32(len(packet)),
		Packet: append([]byte{}, packet...),
	}
	if answer != nil {
		record.Answer = append([]byte{}, answer...)
	}

	c.packets[record.Hash] = record
	c.Uplinks = append(c.Uplinks, record)
	return nil
}

// JoinProcedure implements ledger.Client: the first caller for a given
// join-request claims the election; ElectedResponder gates the verdict.
func (c *Client) JoinProcedure(ctx context.Context, joinRequest, joinAccept []byte, devEUI lorawan.EUI64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ElectedResponder {
		return false, nil
	}

	hash := ledger.PacketHash(joinRequest)
	if _, claimed := c.joins[hash]; claimed {
		return false, nil
	}
	c.joins[hash] = c.NCID
	return true, nil
}

// SessionGeneration implements ledger.Client.
func (c *Client) SessionGeneration(ctx context.Context, session ledger.DeviceSession, devEUI lorawan.EUI64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	session.DevEUI = devEUI
	c.sessions[session.DevAddr] = session
	return nil
}

// GetPacket implements ledger.Client.
func (c *Client) GetPacket(ctx context.Context, hash string) (ledger.PacketRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.packets[hash]
	if !ok {
		return record, ledger.NewError(ledger.KindNotFound, hash)
	}
	return record, nil
}

// GetAllDevices implements ledger.Client.
func (c *Client) GetAllDevices(ctx context.Context) ([]ledger.DeviceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.DeviceConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	return out, nil
}

// GetDeviceOrg implements ledger.Client.
func (c *Client) GetDeviceOrg(ctx context.Context, devID []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	org, ok := c.orgs[string(devID)]
	if !ok {
		return "", ledger.NewError(ledger.KindNotFound, string(devID))
	}
	return org, nil
}

// SetDeviceOrg seeds an organization mapping.
func (c *Client) SetDeviceOrg(devID []byte, org string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orgs[string(devID)] = org
}

var _ ledger.Client = (*Client)(nil)
