//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Persistent node state.
//

package vstack

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rbmk-project/common/runtimex"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

// dbFileName is the name of the database inside the storage path.
const dbFileName = "vsock.db"

var (
	bucketIdentity = []byte("identity")
	bucketNetworks = []byte("networks")
	bucketPeers    = []byte("peers")
	keyNodeID      = []byte("nodeID")
)

// networkRecord is the cached form of a joined network.
type networkRecord struct {
	NetID    uint64   `yaml:"netID"`
	Name     string   `yaml:"name"`
	Assigned []string `yaml:"assigned"`
}

// peerRecord is the cached form of a known peer.
type peerRecord struct {
	Address  uint64    `yaml:"address"`
	Paths    []string  `yaml:"paths"`
	LastSeen time.Time `yaml:"lastSeen"`
}

// newNodeID returns a random 40-bit node identity. Identities
// starting with 0xff are reserved and never returned.
func newNodeID() uint64 {
	for {
		var raw [8]byte
		runtimex.Try1(rand.Read(raw[3:]))
		id := binary.BigEndian.Uint64(raw[:])
		if id != 0 && raw[3] != 0xff {
			return id
		}
	}
}

// idKey encodes a 64-bit identifier as a bucket key.
func idKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

// openStorageLocked opens the database and loads or creates the identity.
//
// The caller must hold mu.
func (n *Node) openStorageLocked() error {
	if !n.opts.localStorage || n.path == "" {
		if n.id == 0 {
			n.id = newNodeID()
		}
		return nil
	}
	if err := os.MkdirAll(n.path, 0700); err != nil {
		return err
	}
	db, err := bolt.Open(filepath.Join(n.path, dbFileName), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIdentity, bucketNetworks, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		identity := tx.Bucket(bucketIdentity)
		if raw := identity.Get(keyNodeID); len(raw) == 8 {
			n.id = binary.BigEndian.Uint64(raw)
			return nil
		}
		if n.id == 0 {
			n.id = newNodeID()
		}
		return identity.Put(keyNodeID, idKey(n.id))
	})
	if err != nil {
		db.Close()
		return err
	}
	n.dbmu.Lock()
	n.db = db
	n.dbmu.Unlock()
	return nil
}

// closeStorage closes the database, if open.
func (n *Node) closeStorage() error {
	n.dbmu.Lock()
	defer n.dbmu.Unlock()
	if n.db == nil {
		return nil
	}
	err := n.db.Close()
	n.db = nil
	return err
}

// withDB runs fn with the open database. It does nothing
// when the database is not open.
func (n *Node) withDB(fn func(db *bolt.DB) error) error {
	n.dbmu.Lock()
	defer n.dbmu.Unlock()
	if n.db == nil {
		return nil
	}
	return fn(n.db)
}

// cacheNetwork stores a joined network.
//
// The caller must hold mu.
func (n *Node) cacheNetworkLocked(m *membership) error {
	if !n.opts.networkCaching {
		return nil
	}
	record := &networkRecord{NetID: m.nwid, Name: m.name}
	for _, prefix := range m.prefixes() {
		record.Assigned = append(record.Assigned, prefix.String())
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		return err
	}
	return n.withDB(func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketNetworks).Put(idKey(m.nwid), data)
		})
	})
}

// forgetNetwork removes a network from the cache.
func (n *Node) forgetNetwork(nwid uint64) error {
	return n.withDB(func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketNetworks).Delete(idKey(nwid))
		})
	})
}

// cachedNetworks returns the sorted IDs of the cached networks.
func (n *Node) cachedNetworks() ([]uint64, error) {
	var ids []uint64
	err := n.withDB(func(db *bolt.DB) error {
		return db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketNetworks).ForEach(func(key, value []byte) error {
				var record networkRecord
				if err := yaml.Unmarshal(value, &record); err != nil {
					return fmt.Errorf("network %x: %w", key, err)
				}
				ids = append(ids, record.NetID)
				return nil
			})
		})
	})
	slices.Sort(ids)
	return ids, err
}

// rememberPeer stores a peer when peer caching is enabled.
func (n *Node) rememberPeer(info *PeerInfo) {
	if info == nil || !n.peerCaching.Load() {
		return
	}
	record := &peerRecord{Address: info.Address, LastSeen: time.Now().UTC()}
	for _, path := range info.Paths {
		record.Paths = append(record.Paths, path.String())
	}
	data := runtimex.Try1(yaml.Marshal(record))
	err := n.withDB(func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketPeers).Put(idKey(info.Address), data)
		})
	})
	if err != nil {
		n.logger().Warn("peerCache", "err", err)
	}
}

// CachedPeers returns the sorted addresses of the peers stored
// in the database. It returns nil when storage is not open.
func (n *Node) CachedPeers() ([]uint64, error) {
	var addrs []uint64
	err := n.withDB(func(db *bolt.DB) error {
		return db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketPeers).ForEach(func(key, _ []byte) error {
				addrs = append(addrs, binary.BigEndian.Uint64(key))
				return nil
			})
		})
	})
	slices.Sort(addrs)
	return addrs, err
}
