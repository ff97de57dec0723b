package consensus

import (
	"fmt"
	"strconv"
	"strings"
)

// PeerAddr derives the network address of a peer from its identity. Peer
// ids follow the peer{N}.{org...} naming of the deployment's certificates;
// peer N listens on 127.0.0.1:5050+N. Nothing else about a peer is
// configured: the id is the address.
func PeerAddr(id string) (string, error) {
	host := id
	if idx := strings.Index(id, "."); idx >= 0 {
		host = id[:idx]
	}
	if !strings.HasPrefix(host, "peer") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeerID, id)
	}

	n, err := strconv.Atoi(strings.TrimPrefix(host, "peer"))
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeerID, id)
	}
	return fmt.Sprintf("127.0.0.1:%d", 5050+n), nil
}
