package wal

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/google/uuid"
)

// blobStorer is the subset of *azblob.Storer used by BlobStore.
type blobStorer interface {
	Reader(ctx context.Context, identity string, opts ...azblob.Option) (*azblob.ReaderResponse, error)
	Put(ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option) (*azblob.WriteResponse, error)
	List(ctx context.Context, opts ...azblob.Option) (*azblob.ListerResponse, error)
	Delete(ctx context.Context, identity string) error
}

// BlobStore is a SegmentStore over Azure blob storage. Every write is
// conditional on the blob etag, so two writers racing on the same log can not
// silently overwrite each other.
type BlobStore struct {
	store blobStorer
	logID uuid.UUID
}

func NewBlobStore(store blobStorer, logID uuid.UUID) *BlobStore {
	return &BlobStore{store: store, logID: logID}
}

func (s *BlobStore) LogID() uuid.UUID {
	return s.logID
}

func (s *BlobStore) ListSegments(ctx context.Context) ([]uint32, error) {

	var indices []uint32
	var marker azblob.ListMarker

	prefix := LogPrefix(s.logID)
	for {
		r, err := s.store.List(ctx, azblob.WithListPrefix(prefix), azblob.WithListMarker(marker))
		if err != nil {
			return nil, err
		}
		for _, it := range r.Items {
			if it.Name == nil {
				continue
			}
			index, ok, err := SegmentIndexFromPath(*it.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				indices = append(indices, index)
			}
		}
		if len(r.Items) == 0 || r.Marker == nil || *r.Marker == "" {
			break
		}
		marker = r.Marker
	}
	slices.Sort(indices)
	return indices, nil
}

func (s *BlobStore) ReadSegment(ctx context.Context, index uint32) ([]byte, string, error) {
	return s.read(ctx, SegmentBlobPath(s.logID, index))
}

func (s *BlobStore) WriteSegment(ctx context.Context, index uint32, data []byte, etag string) (string, error) {
	return s.write(ctx, SegmentBlobPath(s.logID, index), data, etag)
}

func (s *BlobStore) DeleteSegment(ctx context.Context, index uint32) error {
	err := s.store.Delete(ctx, SegmentBlobPath(s.logID, index))
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (s *BlobStore) ReadCheckpoint(ctx context.Context) ([]byte, string, error) {
	return s.read(ctx, CheckpointBlobPath(s.logID))
}

func (s *BlobStore) WriteCheckpoint(ctx context.Context, data []byte, etag string) (string, error) {
	return s.write(ctx, CheckpointBlobPath(s.logID), data, etag)
}

// read returns the content and etag of the blob. On return, regardless of
// error, the response reader has been exhausted and closed.
func (s *BlobStore) read(ctx context.Context, blobPath string, opts ...azblob.Option) ([]byte, string, error) {
	rr, err := s.store.Reader(ctx, blobPath, opts...)
	if err != nil {
		return nil, "", wrapReadError(err)
	}
	defer rr.Reader.Close()
	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, "", err
	}
	if rr.ETag == nil {
		return nil, "", fmt.Errorf("%s: the blob read response carried no etag", blobPath)
	}
	return data, *rr.ETag, nil
}

func (s *BlobStore) write(ctx context.Context, blobPath string, data []byte, etag string) (string, error) {

	// CRITICAL: the etag guards against racy updates. It is absent only when
	// creating the blob, in which case we require that no blob matches *any*
	// etag.
	var opts []azblob.Option
	creating := etag == ""
	if creating {
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	} else {
		opts = append(opts, azblob.WithEtagMatch(etag))
	}

	wr, err := s.store.Put(ctx, blobPath, azblob.NewBytesReaderCloser(data), opts...)
	if err != nil {
		return "", wrapWriteError(err, creating)
	}
	if wr != nil && wr.ETag != nil {
		return *wr.ETag, nil
	}

	// The etag is required for the next conditional write, so get it the slow
	// way if the put response didn't carry it.
	_, newETag, err := s.read(ctx, blobPath)
	return newETag, err
}
