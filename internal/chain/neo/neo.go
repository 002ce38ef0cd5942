// Package neo implements chain.Ledger over a Neo N3 JSON-RPC node.
package neo

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nspcc-dev/neo-go/pkg/core/block"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/trigger"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"

	"github.com/groblegark/arbiter/internal/chain"
	"github.com/groblegark/arbiter/internal/model"
)

// rpc is the subset of *rpcclient.Client the ledger needs.
type rpc interface {
	GetBlockCount() (uint32, error)
	GetBlockByIndex(index uint32) (*block.Block, error)
	GetApplicationLog(hash util.Uint256, trig *trigger.Type) (*result.ApplicationLog, error)
}

// Ledger reads contract notifications from a Neo N3 node.
type Ledger struct {
	rpc    rpc
	client *rpcclient.Client
}

var _ chain.Ledger = (*Ledger)(nil)

// Dial connects to the node at endpoint and initializes the client. The
// client lives until ctx is done or Close is called, so ctx must outlive
// the Ledger; timeout bounds each dial and request.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Ledger, error) {
	c, err := rpcclient.New(ctx, endpoint, rpcclient.Options{
		DialTimeout:    timeout,
		RequestTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", endpoint, err)
	}
	if err := c.Init(); err != nil {
		return nil, fmt.Errorf("rpc %s init: %w", endpoint, err)
	}
	return &Ledger{rpc: c, client: c}, nil
}

// Close releases the client's connections.
func (l *Ledger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

// BlockNumber returns the current chain height.
func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	count, err := l.rpc.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	return uint64(count - 1), nil // blockCount to height
}

// Logs walks blocks [from, to] and returns the notifications emitted by
// contract in HALTed executions. LogIndex is the position of the
// notification within its transaction's application log.
func (l *Ledger) Logs(ctx context.Context, contract string, from, to uint64) ([]model.ChainLog, error) {
	h, err := ParseContract(contract)
	if err != nil {
		return nil, err
	}

	var logs []model.ChainLog
	for height := from; height <= to; height++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := l.rpc.GetBlockByIndex(uint32(height))
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", height, err)
		}
		for _, tx := range b.Transactions {
			appLog, err := l.rpc.GetApplicationLog(tx.Hash(), nil)
			if err != nil {
				return nil, fmt.Errorf("get application log %s: %w", tx.Hash().StringLE(), err)
			}
			logs = append(logs, notifications(appLog, h, contract, height, tx.Hash())...)
		}
	}
	return logs, nil
}

func notifications(appLog *result.ApplicationLog, h util.Uint160, contract string, height uint64, txHash util.Uint256) []model.ChainLog {
	var (
		out   []model.ChainLog
		index int
	)
	for _, exec := range appLog.Executions {
		for _, e := range exec.Events {
			i := index
			index++
			if exec.VMState != vmstate.Halt || !e.ScriptHash.Equals(h) {
				continue
			}
			var items []stackitem.Item
			if e.Item != nil {
				items, _ = e.Item.Value().([]stackitem.Item)
			}
			args := make([]string, len(items))
			for j, it := range items {
				args[j] = renderItem(it)
			}
			out = append(out, model.ChainLog{
				ContractAddress: contract,
				EventName:       model.EventName(e.Name),
				BlockNumber:     height,
				TransactionHash: "0x" + txHash.StringLE(),
				LogIndex:        i,
				Args:            args,
			})
		}
	}
	return out
}

// ParseContract accepts a contract script hash as a Neo address or as
// little-endian hex, with or without the 0x prefix.
func ParseContract(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if h, err := address.StringToUint160(s); err == nil {
		return h, nil
	}
	h, err := util.Uint160DecodeStringLE(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return util.Uint160{}, fmt.Errorf("bad contract address %q: %w", s, err)
	}
	return h, nil
}

// renderItem converts a notification item to the string form stored in
// queue payloads. 20-byte binary values are account script hashes and
// render as addresses.
func renderItem(it stackitem.Item) string {
	switch it.Type() {
	case stackitem.AnyT:
		return ""
	case stackitem.BooleanT:
		b, err := it.TryBool()
		if err != nil {
			return ""
		}
		return strconv.FormatBool(b)
	case stackitem.IntegerT:
		n, err := it.TryInteger()
		if err != nil {
			return ""
		}
		return n.String()
	case stackitem.ByteArrayT, stackitem.BufferT:
		b, err := it.TryBytes()
		if err != nil {
			return ""
		}
		if len(b) == util.Uint160Size && !printable(b) {
			u, err := util.Uint160DecodeBytesBE(b)
			if err == nil {
				return address.Uint160ToString(u)
			}
		}
		if printable(b) {
			return string(b)
		}
		return hex.EncodeToString(b)
	default:
		return fmt.Sprint(it.Value())
	}
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
