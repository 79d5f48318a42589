package snowflakeid

import (
	"errors"
	"fmt"
	"testing"
)

func TestNodeFromPrivateIP(t *testing.T) {
	tests := []struct {
		optional string
		cidr     string
		podIP    string
		want     NodeID
		wantErr  error
	}{
		{"", "10.0.0.0/22", "10.2.3.4", 3*(1<<8) + 4, nil},
		{"", "10.0.0.0/24", "10.2.3.4", 4, nil},
		{"", "10.0.0.0/23", "10.2.3.4", 1*(1<<8) + 4, nil},
		{"", "192.168.0.0/31", "192.168.7.9", 1, nil},

		{"err not private ip ", "10.0.0.0/24", "1.2.3.4", NodeUnset, ErrBadPodIP},
		{"err not an ip ", "10.0.0.0/24", "not-an-ip", NodeUnset, ErrBadPodIP},
		{"err to many ips ", "10.0.0.0/16", "10.2.3.4", NodeUnset, ErrMaskRange},
		{"err to few ips ", "10.0.0.0/32", "10.2.3.4", NodeUnset, ErrMaskRange},
		{"err bad cidr ", "10.0.0.0", "10.2.3.4", NodeUnset, ErrBadWorkerCIDR},
		{"err ipv6 cidr ", "fd00::/118", "10.2.3.4", NodeUnset, ErrBadWorkerCIDR},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%scidr=%s,ip=%s", tt.optional, tt.cidr, tt.podIP), func(t *testing.T) {
			got, err := NodeFromPrivateIP(tt.cidr, tt.podIP)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NodeFromPrivateIP() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("NodeFromPrivateIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveNode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    NodeID
		wantErr error
	}{
		{"explicit node wins", Config{Node: 7, WorkerCIDR: "10.0.0.0/24", PodIP: "10.0.0.9"}, 7, nil},
		{"explicit node zero is usable", Config{Node: 0}, 0, nil},
		{"derived from pod ip", Config{Node: NodeUnset, WorkerCIDR: "10.0.0.0/24", PodIP: "10.0.0.9"}, 9, nil},
		{"nothing configured", Config{Node: NodeUnset}, NodeUnset, nil},
		{"explicit node out of range", Config{Node: 1024}, NodeUnset, ErrNodeRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveNode(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveNode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveNode() = %v, want %v", got, tt.want)
			}
		})
	}
}
