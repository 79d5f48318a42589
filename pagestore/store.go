package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("the object does not exist")
	ErrExists   = errors.New("an object with that name already exists")
	ErrBadKind  = errors.New("the object kind is not valid")
	ErrNoPage   = errors.New("the object has no page")
)

var (
	bucketPages   = []byte("pages")
	bucketObjects = []byte("objects")
	bucketNames   = []byte("names")
)

// Store is the page file and object catalog. Every method runs in its own
// bbolt transaction, which is synced to disk on commit.
type Store struct {
	log logger.Logger
	db  *bolt.DB
	em  cbor.EncMode
	dm  cbor.DecMode
}

func Open(path string, log logger.Logger) (*Store, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR decoder: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPages, bucketObjects, bucketNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{log: log, db: db, em: em, dm: dm}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.db.Path()
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func (s *Store) getObject(tx *bolt.Tx, id uint64) (Object, error) {
	v := tx.Bucket(bucketObjects).Get(idKey(id))
	if v == nil {
		return Object{}, fmt.Errorf("object %d: %w", id, ErrNotFound)
	}
	var obj Object
	if err := s.dm.Unmarshal(v, &obj); err != nil {
		return Object{}, fmt.Errorf("object %d: %w", id, err)
	}
	return obj, nil
}

func (s *Store) putObject(tx *bolt.Tx, obj Object) error {
	v, err := s.em.Marshal(obj)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketObjects).Put(idKey(obj.ID), v)
}

// Create adds an object to the catalog. Sequences must be created with their
// initial page, other kinds must not have one.
func (s *Store) Create(name string, kind Kind, page []byte) (Object, error) {
	switch {
	case kind == KindUndefined || kind > KindView:
		return Object{}, fmt.Errorf("%d: %w", kind, ErrBadKind)
	case kind == KindSequence && page == nil:
		return Object{}, fmt.Errorf("%s: %w", name, ErrNoPage)
	case kind != KindSequence && page != nil:
		return Object{}, fmt.Errorf("%s is a %s: %w", name, kind, ErrBadKind)
	}

	var obj Object
	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		if names.Get([]byte(name)) != nil {
			return fmt.Errorf("%s: %w", name, ErrExists)
		}
		objects := tx.Bucket(bucketObjects)
		id, err := objects.NextSequence()
		if err != nil {
			return err
		}
		obj = Object{ID: id, Name: name, Kind: kind, Generation: 1}
		if err = s.putObject(tx, obj); err != nil {
			return err
		}
		if err = names.Put([]byte(name), idKey(id)); err != nil {
			return err
		}
		if page != nil {
			return tx.Bucket(bucketPages).Put(idKey(id), page)
		}
		return nil
	})
	if err != nil {
		return Object{}, err
	}
	s.log.Infof("created %s %q id %d", kind, name, obj.ID)
	return obj, nil
}

func (s *Store) Object(id uint64) (Object, error) {
	var obj Object
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		obj, err = s.getObject(tx, id)
		return err
	})
	return obj, err
}

func (s *Store) Lookup(name string) (Object, error) {
	var obj Object
	err := s.db.View(func(tx *bolt.Tx) error {
		k := tx.Bucket(bucketNames).Get([]byte(name))
		if k == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		var err error
		obj, err = s.getObject(tx, binary.BigEndian.Uint64(k))
		return err
	})
	return obj, err
}

// Objects returns every catalog entry in id order.
func (s *Store) Objects() ([]Object, error) {
	var objs []Object
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			var obj Object
			if err := s.dm.Unmarshal(v, &obj); err != nil {
				return fmt.Errorf("object %d: %w", binary.BigEndian.Uint64(k), err)
			}
			objs = append(objs, obj)
			return nil
		})
	})
	return objs, err
}

// LoadPage returns a copy of the page of the object and the generation it
// belongs to.
func (s *Store) LoadPage(id uint64) ([]byte, uint64, error) {
	var data []byte
	var generation uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		obj, err := s.getObject(tx, id)
		if err != nil {
			return err
		}
		v := tx.Bucket(bucketPages).Get(idKey(id))
		if v == nil {
			return fmt.Errorf("%s %d: %w", obj.Kind, id, ErrNoPage)
		}
		// bbolt values are only valid for the life of the transaction.
		data = slices.Clone(v)
		generation = obj.Generation
		return nil
	})
	return data, generation, err
}

// Replace gives a sequence new storage. The generation is advanced and page
// becomes its content.
func (s *Store) Replace(id uint64, page []byte) (Object, error) {
	var obj Object
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		obj, err = s.getObject(tx, id)
		if err != nil {
			return err
		}
		if obj.Kind != KindSequence {
			return fmt.Errorf("%s %d: %w", obj.Kind, id, ErrNoPage)
		}
		obj.Generation++
		if err = s.putObject(tx, obj); err != nil {
			return err
		}
		return tx.Bucket(bucketPages).Put(idKey(id), page)
	})
	if err != nil {
		return Object{}, err
	}
	s.log.Infof("replaced storage of %q id %d, generation %d", obj.Name, id, obj.Generation)
	return obj, nil
}

func (s *Store) Drop(id uint64) error {
	var obj Object
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		obj, err = s.getObject(tx, id)
		if err != nil {
			return err
		}
		k := idKey(id)
		if err = tx.Bucket(bucketObjects).Delete(k); err != nil {
			return err
		}
		if err = tx.Bucket(bucketNames).Delete([]byte(obj.Name)); err != nil {
			return err
		}
		return tx.Bucket(bucketPages).Delete(k)
	})
	if err != nil {
		return err
	}
	s.log.Infof("dropped %s %q id %d", obj.Kind, obj.Name, id)
	return nil
}

// WritePages writes the pages back in a single transaction. Pages whose
// object has been dropped, or whose generation is no longer current, are
// skipped; they describe storage that no longer exists. It returns the number
// of pages written.
func (s *Store) WritePages(pages []Page) (int, error) {
	written := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		written = 0
		for _, p := range pages {
			obj, err := s.getObject(tx, p.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if obj.Generation != p.Generation {
				continue
			}
			if err = tx.Bucket(bucketPages).Put(idKey(p.ID), p.Data); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	return written, err
}
