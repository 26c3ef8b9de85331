package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes = []byte("nodes")
	bucketHub   = []byte("hub")
	keyHubState = []byte("state")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketHub} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveNode(node *Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.MAC), data)
	})
}

func (s *BoltStore) GetNode(mac string) (*Node, error) {
	var node Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data := b.Get([]byte(mac))
		if data == nil {
			return fmt.Errorf("node %s: %w", mac, ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) DeleteNode(mac string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		return b.Delete([]byte(mac))
	})
}

func (s *BoltStore) ListNodes() ([]*Node, error) {
	var nodes []*Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return nil // no bucket = no nodes
		}
		nodes = make([]*Node, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var node Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(mac string, fn func(node *Node) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data := b.Get([]byte(mac))
		if data == nil {
			return fmt.Errorf("node %s: %w", mac, ErrNotFound)
		}
		var node Node
		if err := json.Unmarshal(data, &node); err != nil {
			return err
		}
		if err := fn(&node); err != nil {
			return err
		}
		out, err := json.Marshal(&node)
		if err != nil {
			return err
		}
		return b.Put([]byte(mac), out)
	})
}

func (s *BoltStore) SaveHubState(state *HubState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHub)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHub)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(keyHubState, data)
	})
}

func (s *BoltStore) GetHubState() (*HubState, error) {
	var state HubState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHub)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHub)
		}
		data := b.Get(keyHubState)
		if data == nil {
			return fmt.Errorf("hub state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
