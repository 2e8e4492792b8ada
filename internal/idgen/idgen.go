// Package idgen issues human-facing references for ledger entries and
// conversions.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

type Generator struct {
	node *snowflake.Node
}

// New returns a generator bound to node, which must be unique per process
// writing to the same database.
func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

func (g *Generator) TransactionID() string {
	return "TXN-" + g.node.Generate().String()
}

func (g *Generator) ConversionRef() string {
	return "CNV-" + g.node.Generate().String()
}
