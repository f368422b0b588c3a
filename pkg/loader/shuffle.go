package loader

import (
	"bytes"
	"crypto/md5"
	"sort"
)

type hkey [md5.Size]byte

// hashKey returns the salted 128-bit hash that orders shuffled examples.
func hashKey(salt, key string) hkey {
	h := md5.New()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte(key))
	var out hkey
	copy(out[:], h.Sum(nil))
	return out
}

type hashedExample struct {
	hkey hkey
	ex   Example
}

// shuffle orders examples by their salted key hash. The order depends only on
// the keys and the salt, so repeated loads yield the same sequence.
func shuffle(salt string, examples []Example) ([]Example, error) {
	hashed := make([]hashedExample, len(examples))
	for i, ex := range examples {
		hashed[i] = hashedExample{hkey: hashKey(salt, ex.Key), ex: ex}
	}
	sort.Slice(hashed, func(i, j int) bool {
		return bytes.Compare(hashed[i].hkey[:], hashed[j].hkey[:]) < 0
	})
	out := make([]Example, len(hashed))
	for i, h := range hashed {
		if i > 0 && h.hkey == hashed[i-1].hkey {
			return nil, &DuplicatedKeysError{Key: h.ex.Key}
		}
		out[i] = h.ex
	}
	return out, nil
}
