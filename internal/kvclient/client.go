// Package kvclient is a synchronous client for the store's binary
// protocol, used by the CLI and by anything outside the cluster that wants
// to PUT/GET/DELETE keys or inspect cluster membership without speaking
// the wire format directly.
package kvclient

import (
	"fmt"
	"time"

	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/transport"
	"github.com/kvstore/kvstore/internal/wire"
)

// Client is a thread-safe connection to one node, guarded internally by
// transport.Conn's own mutex.
type Client struct {
	conn *transport.Conn
}

// Dial connects to addr ("host:port") with the given timeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := transport.Dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Put writes value for key and returns an error if the node reported
// anything other than OK (including a failed-quorum ERROR).
func (c *Client) Put(key, value string) error {
	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpPut))
	req.WriteString(key)
	req.WriteString(value)

	resp, err := c.conn.SendRecv(req.Bytes())
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Get reads key, returning ok=false if the key doesn't exist.
func (c *Client) Get(key string) (value string, ok bool, err error) {
	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpGet))
	req.WriteString(key)

	resp, err := c.conn.SendRecv(req.Bytes())
	if err != nil {
		return "", false, err
	}

	buf := wire.NewBufferFrom(resp)
	status, err := buf.ReadUint8()
	if err != nil {
		return "", false, err
	}
	switch kvtypes.StatusCode(status) {
	case kvtypes.StatusOK:
		value, err := buf.ReadString()
		return value, true, err
	case kvtypes.StatusNotFound:
		return "", false, nil
	default:
		msg, _ := buf.ReadString()
		return "", false, fmt.Errorf("server error: %s", msg)
	}
}

// Delete removes key.
func (c *Client) Delete(key string) error {
	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpDelete))
	req.WriteString(key)

	resp, err := c.conn.SendRecv(req.Bytes())
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Member describes one entry of a ClusterInfo response.
type Member struct {
	NodeID  string
	Host    string
	Port    uint16
	IsAlive bool
}

// ClusterInfoResult is the decoded response of a CLUSTER_INFO request.
type ClusterInfoResult struct {
	Members   []Member
	LocalSize uint64
}

// ClusterInfo asks the node for its view of cluster membership and its
// local key count.
func (c *Client) ClusterInfo() (ClusterInfoResult, error) {
	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpClusterInfo))

	resp, err := c.conn.SendRecv(req.Bytes())
	if err != nil {
		return ClusterInfoResult{}, err
	}

	buf := wire.NewBufferFrom(resp)
	status, err := buf.ReadUint8()
	if err != nil {
		return ClusterInfoResult{}, err
	}
	if kvtypes.StatusCode(status) != kvtypes.StatusOK {
		msg, _ := buf.ReadString()
		return ClusterInfoResult{}, fmt.Errorf("server error: %s", msg)
	}

	count, err := buf.ReadUint32()
	if err != nil {
		return ClusterInfoResult{}, err
	}
	result := ClusterInfoResult{Members: make([]Member, 0, count)}
	for i := uint32(0); i < count; i++ {
		nodeID, err := buf.ReadString()
		if err != nil {
			return ClusterInfoResult{}, err
		}
		host, err := buf.ReadString()
		if err != nil {
			return ClusterInfoResult{}, err
		}
		port, err := buf.ReadUint16()
		if err != nil {
			return ClusterInfoResult{}, err
		}
		alive, err := buf.ReadBool()
		if err != nil {
			return ClusterInfoResult{}, err
		}
		result.Members = append(result.Members, Member{NodeID: nodeID, Host: host, Port: port, IsAlive: alive})
	}
	result.LocalSize, err = buf.ReadUint64()
	return result, err
}

func expectOK(resp []byte) error {
	buf := wire.NewBufferFrom(resp)
	status, err := buf.ReadUint8()
	if err != nil {
		return err
	}
	if kvtypes.StatusCode(status) == kvtypes.StatusOK {
		return nil
	}
	msg, _ := buf.ReadString()
	return fmt.Errorf("server error: %s", msg)
}
