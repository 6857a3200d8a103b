package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// State adapts a Database into the RLP-encoded key-value interface the ledger
// and contract packages consume.
type State struct {
	db Database
}

// NewState constructs a state adapter over the provided database.
func NewState(db Database) *State {
	return &State{db: db}
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (s *State) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage: state not initialised")
	}
	encoded, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under key.
func (s *State) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: state not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVDelete removes the value stored under key.
func (s *State) KVDelete(key []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: state not initialised")
	}
	return s.db.Delete(key)
}

// Checksum digests every key-value pair under the prefix with BLAKE3 in
// ascending key order. Two stores hold byte-identical state under a prefix
// exactly when their checksums match, which is how upgrades are audited for
// ledger compatibility.
func (s *State) Checksum(prefix []byte) ([32]byte, error) {
	var zero [32]byte
	if s == nil || s.db == nil {
		return zero, fmt.Errorf("storage: state not initialised")
	}
	hasher := blake3.New(32, nil)
	// Each key and value is length-prefixed so distinct pair streams can
	// never collapse onto the same byte sequence.
	var length [8]byte
	writeChunk := func(chunk []byte) error {
		binary.BigEndian.PutUint64(length[:], uint64(len(chunk)))
		if _, err := hasher.Write(length[:]); err != nil {
			return err
		}
		_, err := hasher.Write(chunk)
		return err
	}
	err := s.db.Iterate(prefix, func(key, value []byte) error {
		if err := writeChunk(key); err != nil {
			return err
		}
		return writeChunk(value)
	})
	if err != nil {
		return zero, err
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
