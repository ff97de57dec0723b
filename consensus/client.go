package consensus

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// httpsTransport reaches peers with JSON over mutually-authenticated
// HTTPS. A client is built per broadcast and connections are not pooled:
// the packet rate is LoRa-class, not RPC-class.
type httpsTransport struct {
	cfg Config
}

func (t *httpsTransport) newClient() (*http.Client, error) {
	rawCACert, err := os.ReadFile(t.cfg.CACert)
	if err != nil {
		return nil, errors.Wrap(err, "read ca cert error")
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(rawCACert) {
		return nil, ErrInvalidTLSConfig
	}

	cert, err := tls.LoadX509KeyPair(t.cfg.TLSCert, t.cfg.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "load x509 keypair error")
	}

	return &http.Client{
		Timeout: t.cfg.RPCTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			TLSClientConfig: &tls.Config{
				RootCAs:      caCertPool,
				Certificates: []tls.Certificate{cert},
			},
		},
	}, nil
}

func (t *httpsTransport) BroadcastReception(ctx context.Context, peerID string, req BroadcastReceptionRequest) (*BroadcastReceptionRequest, error) {
	var resp BroadcastReceptionResponse
	if err := t.post(ctx, peerID, BroadcastReceptionPath, req, &resp); err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

func (t *httpsTransport) BroadcastNcSet(ctx context.Context, peerID string, req BroadcastNcSetRequest) (*BroadcastNcSetRequest, error) {
	var resp BroadcastNcSetResponse
	if err := t.post(ctx, peerID, BroadcastNcSetPath, req, &resp); err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

func (t *httpsTransport) post(ctx context.Context, peerID, path string, req, resp interface{}) error {
	addr, err := PeerAddr(peerID)
	if err != nil {
		return err
	}

	client, err := t.newClient()
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "json marshal error")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+addr+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "new request error")
	}
	httpReq.Header.Add("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "http post error")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.Wrap(err, "read body error")
	}

	if httpResp.StatusCode != http.StatusOK {
		var result Result
		if err := json.Unmarshal(body, &result); err == nil && result.ResultCode != "" {
			return fmt.Errorf("consensus: peer %s rejected %s: %s (%s)", peerID, path, result.ResultCode, result.Description)
		}
		return fmt.Errorf("consensus: peer %s answered %s with status %d", peerID, path, httpResp.StatusCode)
	}

	if err := json.Unmarshal(body, resp); err != nil {
		return errors.Wrap(err, "unmarshal response error")
	}
	return nil
}
