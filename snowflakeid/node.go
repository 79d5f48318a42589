package snowflakeid

import (
	"errors"
	"fmt"
)

// NodeID identifies the generator instance. Valid identities are 0..MaxNode.
type NodeID int16

// NodeUnset marks a node identity that has not been configured. It is
// deliberately outside the valid range so that node 0 remains usable.
const NodeUnset NodeID = -1

var (
	ErrNodeUnset = errors.New("the snowflake node identity is not configured")
	ErrNodeRange = errors.New("the snowflake node identity must be in the range 0-1023")
)

// Check returns ErrNodeUnset for the sentinel and ErrNodeRange for any other
// value outside 0..MaxNode.
func (n NodeID) Check() error {
	if n == NodeUnset {
		return ErrNodeUnset
	}
	if n < 0 || n > MaxNode {
		return fmt.Errorf("%d: %w", n, ErrNodeRange)
	}
	return nil
}

// ResolveNode returns cfg.Node if it is set, otherwise the node derived from
// cfg.WorkerCIDR and cfg.PodIP. If neither source is configured the result is
// NodeUnset and no error.
func ResolveNode(cfg Config) (NodeID, error) {
	if cfg.Node != NodeUnset {
		if err := cfg.Node.Check(); err != nil {
			return NodeUnset, err
		}
		return cfg.Node, nil
	}
	if cfg.WorkerCIDR == "" && cfg.PodIP == "" {
		return NodeUnset, nil
	}
	return NodeFromPrivateIP(cfg.WorkerCIDR, cfg.PodIP)
}
