package admin

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const bufSize = 64 * 1024

var jsonHandle = &codec.JsonHandle{}

/*
NetworkClient talks to node admin servers over TCP. Each request is framed
by a byte indicating the command type, followed by the JSON encoded
request. The response is an error string followed by the response object.

Connections are pooled per target. Fetch commands run with their own, much
longer deadline, since a fetch only responds once the transfer is done.
*/
type NetworkClient struct {
	logger *logrus.Entry

	cluster *cluster.Cluster

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	timeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	dec    *codec.Decoder
	enc    *codec.Encoder
}

// Release closes the underlying connection.
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkClient creates a NetworkClient for a cluster. maxPool controls
// how many connections are pooled per node, and timeout is the I/O
// deadline applied to control commands.
func NewNetworkClient(c *cluster.Cluster, maxPool int, timeout time.Duration, logger *logrus.Entry) *NetworkClient {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkClient{
		logger:     logger,
		cluster:    c,
		connPool:   make(map[string][]*netConn),
		maxPool:    maxPool,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
	}
}

// Close releases all pooled connections.
func (c *NetworkClient) Close() error {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()

	if !c.shutdown {
		close(c.shutdownCh)
		c.shutdown = true
	}

	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	for _, conns := range c.connPool {
		for _, conn := range conns {
			conn.Release()
		}
	}
	c.connPool = make(map[string][]*netConn)

	return nil
}

// IsShutdown is used to check if the client is shutdown.
func (c *NetworkClient) IsShutdown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// FetchStore implements the Client interface.
func (c *NetworkClient) FetchStore(nodeID int, storeName, storeDir string, pushVersion int64, timeout time.Duration) (string, error) {
	target, err := c.target(nodeID)
	if err != nil {
		return "", err
	}

	req := FetchRequest{
		StoreName:   storeName,
		StoreDir:    storeDir,
		PushVersion: pushVersion,
	}
	var resp FetchResponse

	if err := c.genericRPC(target, rpcFetch, timeout, &req, &resp); err != nil {
		return "", err
	}

	return resp.Path, nil
}

// SwapStore implements the Client interface.
func (c *NetworkClient) SwapStore(nodeID int, storeName, path string) (string, error) {
	target, err := c.target(nodeID)
	if err != nil {
		return "", err
	}

	req := SwapRequest{
		StoreName: storeName,
		Path:      path,
	}
	var resp SwapResponse

	if err := c.genericRPC(target, rpcSwap, c.timeout, &req, &resp); err != nil {
		return "", err
	}

	return resp.PreviousDir, nil
}

// RollbackStore implements the Client interface.
func (c *NetworkClient) RollbackStore(nodeID int, storeName string, pushVersion int64) error {
	target, err := c.target(nodeID)
	if err != nil {
		return err
	}

	req := RollbackRequest{
		StoreName:   storeName,
		PushVersion: pushVersion,
	}
	var resp RollbackResponse

	return c.genericRPC(target, rpcRollback, c.timeout, &req, &resp)
}

// FailedFetchStore implements the Client interface.
func (c *NetworkClient) FailedFetchStore(nodeID int, storeName, path string) error {
	target, err := c.target(nodeID)
	if err != nil {
		return err
	}

	req := FailedFetchRequest{
		StoreName: storeName,
		Path:      path,
	}
	var resp FailedFetchResponse

	return c.genericRPC(target, rpcFailedFetch, c.timeout, &req, &resp)
}

// DisableStoreVersion implements the Client interface.
func (c *NetworkClient) DisableStoreVersion(nodeID int, storeName string, pushVersion int64) error {
	target, err := c.target(nodeID)
	if err != nil {
		return err
	}

	req := DisableVersionRequest{
		StoreName:   storeName,
		PushVersion: pushVersion,
	}
	var resp DisableVersionResponse

	return c.genericRPC(target, rpcDisableVersion, c.timeout, &req, &resp)
}

// GetCurrentVersion implements the Client interface.
func (c *NetworkClient) GetCurrentVersion(nodeID int, storeName string) (int64, error) {
	target, err := c.target(nodeID)
	if err != nil {
		return 0, err
	}

	req := CurrentVersionRequest{StoreName: storeName}
	var resp CurrentVersionResponse

	if err := c.genericRPC(target, rpcCurrentVersion, c.timeout, &req, &resp); err != nil {
		return 0, err
	}

	return resp.Version, nil
}

func (c *NetworkClient) target(nodeID int) (string, error) {
	node, ok := c.cluster.ByID[nodeID]
	if !ok {
		return "", fmt.Errorf("unknown node %d", nodeID)
	}
	return node.AdminAddr, nil
}

// getPooledConn is used to grab a pooled connection.
func (c *NetworkClient) getPooledConn(target string) *netConn {
	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	conns, ok := c.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	c.connPool[target] = conns[:num-1]
	return conn
}

// getConn is used to get a connection, either pooled or freshly dialed.
func (c *NetworkClient) getConn(target string, timeout time.Duration) (*netConn, error) {
	if conn := c.getPooledConn(target); conn != nil {
		return conn, nil
	}

	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return nil, err
	}

	netConn := &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}
	netConn.dec = codec.NewDecoder(netConn.r, jsonHandle)
	netConn.enc = codec.NewEncoder(netConn.w, jsonHandle)

	return netConn, nil
}

// returnConn returns a connection back to the pool.
func (c *NetworkClient) returnConn(conn *netConn) {
	c.connPoolLock.Lock()
	defer c.connPoolLock.Unlock()

	key := conn.target
	conns := c.connPool[key]

	if !c.IsShutdown() && len(conns) < c.maxPool {
		c.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// genericRPC handles a simple request/response RPC.
func (c *NetworkClient) genericRPC(target string, rpcType uint8, timeout time.Duration, args interface{}, resp interface{}) error {
	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = c.timeout
	}

	conn, err := c.getConn(target, dialTimeout)
	if err != nil {
		return err
	}

	if timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(timeout))
	} else {
		conn.conn.SetDeadline(time.Time{})
	}

	if err = sendRPC(conn, rpcType, args); err != nil {
		return err
	}

	canReturn, err := decodeResponse(conn, resp)
	if canReturn {
		c.returnConn(conn)
	}

	return err
}

// sendRPC is used to encode and send the RPC.
func sendRPC(conn *netConn, rpcType uint8, args interface{}) error {
	if err := conn.w.WriteByte(rpcType); err != nil {
		conn.Release()
		return err
	}

	if err := conn.enc.Encode(args); err != nil {
		conn.Release()
		return err
	}

	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}
	return nil
}

// decodeResponse is used to decode an RPC response and reports whether the
// connection can be reused.
func decodeResponse(conn *netConn, resp interface{}) (bool, error) {
	// Decode the error if any
	var rpcError string
	if err := conn.dec.Decode(&rpcError); err != nil {
		conn.Release()
		return false, err
	}

	// Decode the response
	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return false, err
	}

	if rpcError != "" {
		return true, fmt.Errorf("%s", rpcError)
	}
	return true, nil
}
