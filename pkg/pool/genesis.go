package pool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"
)

// nodeTxnType is the ledger transaction type of a NODE genesis transaction.
const nodeTxnType = "0"

// Node is one validator reachable by clients.
type Node struct {
	// Alias is the validator name used in multi signatures
	Alias string

	// Address is the client endpoint, e.g. tcp://10.0.0.2:9702
	Address string

	// VerKey is the base58 ed25519 verification key
	VerKey string
}

// ParseGenesis reads pool genesis transactions, one JSON object per line,
// and returns the validators. Later transactions for the same alias replace
// earlier ones; nodes whose services no longer include VALIDATOR are dropped.
func ParseGenesis(r io.Reader) ([]Node, error) {
	byAlias := map[string]int{}
	var nodes []Node

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("genesis line %d: invalid JSON", line)
		}
		txn := gjson.Get(text, "txn")
		if txn.Get("type").String() != nodeTxnType {
			continue
		}

		data := txn.Get("data.data")
		node := Node{
			Alias:   data.Get("alias").String(),
			Address: fmt.Sprintf("tcp://%s:%d", data.Get("client_ip").String(), data.Get("client_port").Int()),
			VerKey:  txn.Get("data.dest").String(),
		}
		if node.Alias == "" || data.Get("client_ip").String() == "" || data.Get("client_port").Int() == 0 {
			return nil, fmt.Errorf("genesis line %d: node transaction is missing alias or client address", line)
		}
		if raw, err := base58.Decode(node.VerKey); err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("genesis line %d: node %s has an invalid verkey", line, node.Alias)
		}

		validator := true
		if services := data.Get("services"); services.Exists() {
			validator = false
			for _, s := range services.Array() {
				if s.String() == "VALIDATOR" {
					validator = true
				}
			}
		}

		i, seen := byAlias[node.Alias]
		switch {
		case seen && validator:
			nodes[i] = node
		case seen && !validator:
			nodes[i] = Node{}
		case validator:
			byAlias[node.Alias] = len(nodes)
			nodes = append(nodes, node)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}

	out := nodes[:0]
	for _, n := range nodes {
		if n.Alias != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("genesis has no validator nodes")
	}
	return out, nil
}

// VerKeys maps node aliases to verkeys, the input of ledger.NewVerifier.
func VerKeys(nodes []Node) map[string]string {
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		out[n.Alias] = n.VerKey
	}
	return out
}
