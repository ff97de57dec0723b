package consensus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Paths of the two round RPCs.
const (
	BroadcastReceptionPath = "/broadcast-reception"
	BroadcastNcSetPath     = "/broadcast-ncset"
)

// Handler returns the peer RPC handler. The authenticated peer identity
// is the CommonName of the verified client certificate; the handler must
// be served behind a TLS listener that requires and verifies client
// certificates.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BroadcastReceptionPath, e.serveBroadcastReception)
	mux.HandleFunc(BroadcastNcSetPath, e.serveBroadcastNcSet)
	return mux
}

// ListenAndServe runs the peer RPC server with mutual TLS until the
// context is cancelled.
func (e *Engine) ListenAndServe(ctx context.Context) error {
	tlsConfig, err := e.serverTLSConfig()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              e.cfg.ListenAddr,
		Handler:           e.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: e.cfg.RPCTimeout,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.WithFields(log.Fields{
		"nc_id": e.cfg.ID,
		"addr":  e.cfg.ListenAddr,
	}).Info("consensus: peer server listening")

	err = srv.ListenAndServeTLS(e.cfg.TLSCert, e.cfg.TLSKey)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (e *Engine) serverTLSConfig() (*tls.Config, error) {
	rawCACert, err := os.ReadFile(e.cfg.CACert)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read ca cert error")
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(rawCACert) {
		return nil, ErrInvalidTLSConfig
	}

	return &tls.Config{
		ClientCAs:  caCertPool,
		ClientAuth: tls.RequireAndVerifyClientCert,
	}, nil
}

// peerID extracts the authenticated peer identity from the verified
// client certificate.
func peerID(r *http.Request) (string, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", ErrUnauthenticated
	}
	cn := r.TLS.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", ErrUnauthenticated
	}
	return cn, nil
}

func (e *Engine) serveBroadcastReception(w http.ResponseWriter, r *http.Request) {
	src, err := peerID(r)
	if err != nil {
		writeResult(w, http.StatusUnauthorized, Unauthenticated, err.Error())
		return
	}

	var req BroadcastReceptionRequest
	if err := readJSON(r, &req); err != nil {
		writeResult(w, http.StatusBadRequest, Other, err.Error())
		return
	}

	log.WithFields(log.Fields{
		"nc_id":    e.cfg.ID,
		"peer":     src,
		"dev_addr": req.DevAddr,
	}).Debug("consensus: reception received")

	answer, err := e.HandleReception(src, req)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, BroadcastReceptionResponse{Answer: answer})
}

func (e *Engine) serveBroadcastNcSet(w http.ResponseWriter, r *http.Request) {
	src, err := peerID(r)
	if err != nil {
		writeResult(w, http.StatusUnauthorized, Unauthenticated, err.Error())
		return
	}

	var req BroadcastNcSetRequest
	if err := readJSON(r, &req); err != nil {
		writeResult(w, http.StatusBadRequest, Other, err.Error())
		return
	}

	log.WithFields(log.Fields{
		"nc_id":    e.cfg.ID,
		"peer":     src,
		"dev_addr": req.DevAddr,
	}).Debug("consensus: set received")

	answer, err := e.HandleNcSet(src, req)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, BroadcastNcSetResponse{Answer: answer})
}

func writeProtocolError(w http.ResponseWriter, err error) {
	code := Other
	status := http.StatusConflict
	switch {
	case errors.Is(err, ErrNoRound):
		code = NoRound
	case errors.Is(err, ErrInvalidHash):
		code = InvalidHash
		status = http.StatusBadRequest
	case errors.Is(err, ErrInvalidHashLength):
		code = InvalidHashLength
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotPartOfRound):
		code = NotPartOfRound
		status = http.StatusUnauthorized
	case errors.Is(err, ErrWrongState):
		code = WrongState
	}
	writeResult(w, status, code, err.Error())
}

func writeResult(w http.ResponseWriter, status int, code ResultCode, msg string) {
	w.WriteHeader(status)
	b, err := json.Marshal(Result{ResultCode: code, Description: msg})
	if err != nil {
		log.WithError(err).Error("consensus: marshal result error")
		return
	}
	w.Write(b)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("consensus: marshal response error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

func readJSON(r *http.Request, v interface{}) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return pkgerrors.Wrap(err, "read body error")
	}
	return json.Unmarshal(b, v)
}
