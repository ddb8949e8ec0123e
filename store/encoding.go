package store

import (
	"bytes"
	"encoding/gob"
)

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Flush forces the pending batch to commit immediately; the Write
// Serializer calls this after every batch.
func (s *Store) Flush() {
	s.batchTx.ForceCommit()
}
