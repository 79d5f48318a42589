package snowflakeid

import (
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	type args struct {
		id uint64
	}
	tests := []struct {
		name        string
		args        args
		wantMS      uint64
		wantCounter uint16
		wantNode    NodeID
	}{
		{"fully f'd", args{(1 << 64) - 1}, MaxTime, MaxCounter, MaxNode},
		{"1 bits", args{(1 << 22) | (1 << 10) | 1}, 1, 1, 1},
		{"worked example", args{(1700000000123 << 22) | (5 << 10) | 7}, 1700000000123, 5, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, counter, node := Split(tt.args.id)
			if ms != tt.wantMS {
				t.Errorf("Split() ms = %x, want %x", ms, tt.wantMS)
			}
			if counter != tt.wantCounter {
				t.Errorf("Split() counter = %x, want %x", counter, tt.wantCounter)
			}
			if node != tt.wantNode {
				t.Errorf("Split() node = %x, want %x", node, tt.wantNode)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	id := int64(Encode(1700000000123, 5, 7))

	if got := DecodeTimestamp(id); got != 1700000000.123 {
		t.Errorf("DecodeTimestamp() = %v", got)
	}
	if got := DecodeUnixTimestamp(id); got != 1700000000.123+1577836800 {
		t.Errorf("DecodeUnixTimestamp() = %v", got)
	}
	if got := DecodeCounter(id); got != 5 {
		t.Errorf("DecodeCounter() = %v", got)
	}
	if got := DecodeNode(id); got != 7 {
		t.Errorf("DecodeNode() = %v", got)
	}
}

func TestEncodeChecked(t *testing.T) {
	if _, err := EncodeChecked(MaxTime+1, 0, 0); err == nil {
		t.Errorf("expected time overflow")
	}
	if _, err := EncodeChecked(0, MaxCounter+1, 0); err == nil {
		t.Errorf("expected counter range error")
	}
	if _, err := EncodeChecked(0, 0, NodeUnset); err == nil {
		t.Errorf("expected node unset error")
	}
	id, err := EncodeChecked(1, 2, 3)
	if err != nil || id != (1<<22)|(2<<10)|3 {
		t.Errorf("EncodeChecked() = %x, %v", id, err)
	}
}

func TestIDTime(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 10*int(time.Millisecond), time.UTC)
	id := Encode(uint64(EpochMilli(now)), 0, 0)
	if got := IDTime(id); !got.Equal(now) {
		t.Errorf("IDTime() = %v, want %v", got, now)
	}
	if got := EpochMilli(Epoch); got != 0 {
		t.Errorf("EpochMilli(Epoch) = %d", got)
	}
}
