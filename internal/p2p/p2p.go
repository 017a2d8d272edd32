// Package p2p implements the node's peer-to-peer transport: a fixed
// set of neighbor addresses, connected over plain TCP, exchanging
// newline-delimited tagged JSON messages. There is no discovery and
// no NAT traversal — the neighbor list is part of a node's static
// configuration.
package p2p

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/pkg/errors"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

// NetAddress identifies a peer by host and port.
type NetAddress struct {
	Ip   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (a NetAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Ip, a.Port)
}

const (
	tagBlock   = "block"
	tagTx      = "tx"
	tagBlockId = "block_id"
)

const dialRetryInterval = 3 * time.Second

// P2PNetwork gossips blocks, transactions and block-id announcements
// (a pull hint rather than the full block) between a fixed set of
// neighbors. Callers drive it entirely through the channels returned
// by Create; the network itself never inspects block or transaction
// contents.
type P2PNetwork struct {
	self      NetAddress
	neighbors []NetAddress
	log       btclog.Logger
	spawn     func(func())

	blockIn    chan chain.BlockNode
	blockOut   chan chain.BlockNode
	txIn       chan chain.Transaction
	txOut      chan chain.Transaction
	blockIdOut chan chain.BlockId

	sendMsgCount uint64
	recvMsgCount uint64

	mu    sync.Mutex
	conns map[string]net.Conn
}

// wireMessage is the newline-delimited envelope carried over every
// TCP connection: a tag identifying the payload type, followed by its
// JSON encoding.
type wireMessage struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
}

// Create starts listening on self and dialing every neighbor, and
// returns the five channels callers use to drive gossip:
//
//   - blockIn: full blocks received from a neighbor
//   - blockOut: full blocks to broadcast to every neighbor
//   - txIn: transactions received from a neighbor
//   - txOut: transactions to broadcast to every neighbor
//   - blockIdOut: block-id announcements to broadcast to every
//     neighbor, used as a lightweight "you might be missing this"
//     pull hint rather than pushing the full block
func Create(self NetAddress, neighbors []NetAddress, log btclog.Logger, spawn func(func())) (
	blockIn <-chan chain.BlockNode,
	blockOut chan<- chain.BlockNode,
	txIn <-chan chain.Transaction,
	txOut chan<- chain.Transaction,
	blockIdOut chan<- chain.BlockId,
	network *P2PNetwork,
) {
	n := &P2PNetwork{
		self:       self,
		neighbors:  neighbors,
		log:        log,
		spawn:      spawn,
		blockIn:    make(chan chain.BlockNode, 256),
		blockOut:   make(chan chain.BlockNode, 256),
		txIn:       make(chan chain.Transaction, 256),
		txOut:      make(chan chain.Transaction, 256),
		blockIdOut: make(chan chain.BlockId, 256),
		conns:      map[string]net.Conn{},
	}

	spawn(n.listen)
	for _, neighbor := range neighbors {
		neighbor := neighbor
		spawn(func() { n.maintainConnection(neighbor) })
	}
	spawn(n.broadcastLoop)

	return n.blockIn, n.blockOut, n.txIn, n.txOut, n.blockIdOut, n
}

// listen accepts inbound connections from neighbors and reads tagged
// messages off each one.
func (n *P2PNetwork) listen() {
	listener, err := net.Listen("tcp", n.self.String())
	if err != nil {
		n.log.Errorf("p2p: failed to listen on %s: %s", n.self, err)
		return
	}
	n.log.Infof("p2p: listening on %s", n.self)

	for {
		conn, err := listener.Accept()
		if err != nil {
			n.log.Warnf("p2p: accept failed: %s", err)
			continue
		}
		n.spawn(func() { n.readLoop(conn) })
	}
}

// maintainConnection dials neighbor, retrying until it succeeds, and
// keeps the resulting connection registered for outbound broadcasts
// until it drops, at which point it reconnects.
func (n *P2PNetwork) maintainConnection(neighbor NetAddress) {
	for {
		conn, err := net.Dial("tcp", neighbor.String())
		if err != nil {
			n.log.Debugf("p2p: dial %s failed: %s", neighbor, err)
			time.Sleep(dialRetryInterval)
			continue
		}
		n.log.Infof("p2p: connected to neighbor %s", neighbor)

		n.mu.Lock()
		n.conns[neighbor.String()] = conn
		n.mu.Unlock()

		n.readLoop(conn)

		n.mu.Lock()
		delete(n.conns, neighbor.String())
		n.mu.Unlock()

		time.Sleep(dialRetryInterval)
	}
}

// readLoop decodes tagged newline-delimited JSON messages from conn
// until it closes, dispatching each to the appropriate inbound
// channel.
func (n *P2PNetwork) readLoop(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := n.dispatch(line); err != nil {
			n.log.Warnf("p2p: dropping malformed message from %s: %s", conn.RemoteAddr(), err)
			continue
		}
		atomic.AddUint64(&n.recvMsgCount, 1)
	}
}

func (n *P2PNetwork) dispatch(line string) error {
	var msg wireMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return errors.Wrap(err, "invalid wire envelope")
	}

	switch msg.Tag {
	case tagBlock:
		var block chain.BlockNode
		if err := json.Unmarshal(msg.Payload, &block); err != nil {
			return errors.Wrap(err, "invalid block payload")
		}
		n.blockIn <- block
	case tagTx:
		var tx chain.Transaction
		if err := json.Unmarshal(msg.Payload, &tx); err != nil {
			return errors.Wrap(err, "invalid tx payload")
		}
		n.txIn <- tx
	case tagBlockId:
		var blockID chain.BlockId
		if err := json.Unmarshal(msg.Payload, &blockID); err != nil {
			return errors.Wrap(err, "invalid block_id payload")
		}
		n.forwardToRandomNeighbor(tagBlockId, blockID)
	default:
		return errors.Errorf("unknown tag %q", msg.Tag)
	}
	return nil
}

// broadcastLoop drains blockOut, txOut and blockIdOut and fans each
// message out to every connected neighbor.
func (n *P2PNetwork) broadcastLoop() {
	for {
		select {
		case block := <-n.blockOut:
			n.broadcast(tagBlock, block)
		case tx := <-n.txOut:
			n.broadcast(tagTx, tx)
		case blockID := <-n.blockIdOut:
			n.broadcast(tagBlockId, blockID)
		}
	}
}

// encode wraps payload in a tagged wireMessage envelope, newline
// terminated and ready to write to a connection.
func (n *P2PNetwork) encode(tag string, payload interface{}) ([]byte, error) {
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s payload", tag)
	}
	line, err := json.Marshal(wireMessage{Tag: tag, Payload: encodedPayload})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s envelope", tag)
	}
	return append(line, '\n'), nil
}

func (n *P2PNetwork) broadcast(tag string, payload interface{}) {
	line, err := n.encode(tag, payload)
	if err != nil {
		n.log.Errorf("p2p: %s", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for addr, conn := range n.conns {
		if _, err := conn.Write(line); err != nil {
			n.log.Warnf("p2p: write to %s failed: %s", addr, err)
			continue
		}
		atomic.AddUint64(&n.sendMsgCount, 1)
	}
}

// forwardToRandomNeighbor re-encodes payload under tag and writes it
// to a single, randomly chosen connected neighbor, rather than
// broadcasting it to all of them. This is used to forward a block_id
// pull hint one hop further through the network without amplifying it
// into a flood.
func (n *P2PNetwork) forwardToRandomNeighbor(tag string, payload interface{}) {
	line, err := n.encode(tag, payload)
	if err != nil {
		n.log.Errorf("p2p: %s", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.conns) == 0 {
		return
	}
	addrs := make([]string, 0, len(n.conns))
	for addr := range n.conns {
		addrs = append(addrs, addr)
	}
	addr := addrs[rand.Intn(len(addrs))]
	if _, err := n.conns[addr].Write(line); err != nil {
		n.log.Warnf("p2p: forward to %s failed: %s", addr, err)
		return
	}
	atomic.AddUint64(&n.sendMsgCount, 1)
}

// Status summarizes a P2PNetwork for diagnostics and IPC responses.
type Status struct {
	NumNeighbors int    `json:"num_neighbors"`
	NumConnected int    `json:"num_connected"`
	SendMsgCount uint64 `json:"send_msg_count"`
	RecvMsgCount uint64 `json:"recv_msg_count"`
}

// GetStatus returns a snapshot of the network's connectivity and
// traffic counters.
func (n *P2PNetwork) GetStatus() Status {
	n.mu.Lock()
	connected := len(n.conns)
	n.mu.Unlock()
	return Status{
		NumNeighbors: len(n.neighbors),
		NumConnected: connected,
		SendMsgCount: atomic.LoadUint64(&n.sendMsgCount),
		RecvMsgCount: atomic.LoadUint64(&n.recvMsgCount),
	}
}
