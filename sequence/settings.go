package sequence

import (
	"fmt"
	"sync/atomic"

	"github.com/forestrie/go-snowflake/snowflakeid"
)

// Settings holds the process wide node identity. Every sequence in the
// engine stamps the node into the values it issues.
type Settings struct {
	guard AccessGuard
	node  atomic.Int32
}

func NewSettings(guard AccessGuard, node snowflakeid.NodeID) *Settings {
	s := &Settings{guard: guard}
	s.node.Store(int32(node))
	return s
}

// Node returns the configured node, or snowflakeid.NodeUnset.
func (s *Settings) Node() snowflakeid.NodeID {
	return snowflakeid.NodeID(s.node.Load())
}

// SetNode changes the node identity. Only a superuser may change it. Values
// already issued keep the node they were issued with.
func (s *Settings) SetNode(principal Principal, node int) error {
	if !s.guard.IsSuperuser(principal) {
		return fmt.Errorf("%s may not set the snowflake node: %w", principal, ErrPermission)
	}
	if node < 0 || node > snowflakeid.MaxNode {
		return fmt.Errorf("%w: %w", ErrConfiguration, fmt.Errorf("%d: %w", node, snowflakeid.ErrNodeRange))
	}
	s.node.Store(int32(node))
	return nil
}

func (s *Settings) ClearNode(principal Principal) error {
	if !s.guard.IsSuperuser(principal) {
		return fmt.Errorf("%s may not clear the snowflake node: %w", principal, ErrPermission)
	}
	s.node.Store(int32(snowflakeid.NodeUnset))
	return nil
}

// requireNode returns the node, or ErrConfiguration if it is not set.
func (s *Settings) requireNode() (snowflakeid.NodeID, error) {
	node := s.Node()
	if err := node.Check(); err != nil {
		return snowflakeid.NodeUnset, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return node, nil
}
