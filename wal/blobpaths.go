package wal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	V1FlakesPrefix = "v1/flakes"
	V1WALDir       = "wal"
)

// LogPrefix returns the blob path prefix under which every object of the log
// identified by logID is stored. The trailing slash is included so that a
// prefix listing never matches a sibling log.
func LogPrefix(logID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s/", V1FlakesPrefix, logID.String(), V1WALDir)
}

func SegmentBlobPath(logID uuid.UUID, index uint32) string {
	return LogPrefix(logID) + SegmentName(index)
}

func CheckpointBlobPath(logID uuid.UUID) string {
	return LogPrefix(logID) + CheckpointObjectName
}

// SegmentIndexFromPath parses the segment index from a segment object path.
// ok is false for paths that are not segments (the checkpoint for example).
func SegmentIndexFromPath(storagePath string) (uint32, bool, error) {
	i := strings.LastIndex(storagePath, "/")
	base, ok := strings.CutSuffix(storagePath[i+1:], "."+SegmentExt)
	if !ok {
		return 0, false, nil
	}
	index, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", storagePath, err)
	}
	return uint32(index), true, nil
}

// ParseLogID recovers the log id from any path produced by this package.
func ParseLogID(storagePath string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(storagePath, V1FlakesPrefix+"/")
	if !ok {
		return uuid.Nil, fmt.Errorf("%s: not a flakes log path", storagePath)
	}
	id, _, _ := strings.Cut(rest, "/")
	return uuid.Parse(id)
}
