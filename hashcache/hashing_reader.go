package hashcache

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"

	"github.com/rly/kachery/digest"
)

// hashingReader wraps a reader, hashing and counting bytes as they pass
// through, so DownloadFile can verify a streamed body in a single pass.
type hashingReader struct {
	h         hash.Hash
	algorithm digest.Algorithm
	n         int64
}

func newHashingReader(r io.Reader, algorithm digest.Algorithm) (*hashingReader, io.Reader) {
	hr := &hashingReader{algorithm: algorithm}
	switch algorithm {
	case digest.MD5:
		hr.h = md5.New()
	default:
		hr.h = sha1.New()
	}
	return hr, io.TeeReader(r, teeHasher{hr})
}

// teeHasher adapts hashingReader to io.Writer so it can sit on the
// receiving end of an io.TeeReader built from the same reader it counts.
type teeHasher struct {
	hr *hashingReader
}

func (t teeHasher) Write(p []byte) (int, error) {
	t.hr.n += int64(len(p))
	return t.hr.h.Write(p)
}

func (hr *hashingReader) digest() digest.Digest {
	return digest.Digest{Algorithm: hr.algorithm, Hex: hex.EncodeToString(hr.h.Sum(nil))}
}
