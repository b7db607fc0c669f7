package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rly/kachery/config"
	"github.com/rly/kachery/digest"
)

const testHash = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

func testConfig(url string) config.Config {
	return config.Config{URL: url, Channel: "mychannel", Password: "mypassword", Algorithm: digest.SHA1}
}

func TestCanonicalSignatureIsDeterministic(t *testing.T) {
	sig1, err := canonicalSignature(digest.SHA1, testHash, "check", "pw")
	require.NoError(t, err)
	sig2, err := canonicalSignature(digest.SHA1, testHash, "check", "pw")
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 40)
}

func TestSignedURLRequiresConfig(t *testing.T) {
	_, err := signedURL(config.Config{}, "check", "check", digest.SHA1, testHash)
	assert.Error(t, err)
}

func TestCheckFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: true, Size: 5})
	}))
	defer srv.Close()

	result, err := Check(testConfig(srv.URL), digest.SHA1, testHash)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.EqualValues(t, 5, result.Size)
	assert.Contains(t, result.DownloadURL, "/get/sha1/"+testHash)
}

func TestCheckNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: false})
	}))
	defer srv.Close()

	result, err := Check(testConfig(srv.URL), digest.SHA1, testHash)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestCheckRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// Simulate a connection-level failure by hijacking and closing
			// without writing a response.
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: true, Size: 3})
	}))
	defer srv.Close()

	result, err := Check(testConfig(srv.URL), digest.SHA1, testHash)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestUploadSkipsWhenAlreadyPresentAtSameSize(t *testing.T) {
	var uploaded bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			uploaded = true
			json.NewEncoder(w).Encode(uploadResponse{Success: true})
			return
		}
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: true, Size: 5})
	}))
	defer srv.Close()

	err := Upload(testConfig(srv.URL), digest.SHA1, testHash, 5, func() (io.ReadCloser, error) {
		t.Fatal("open should not be called when already present")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, uploaded)
}

func TestUploadFailsOnSizeConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: true, Size: 999})
	}))
	defer srv.Close()

	err := Upload(testConfig(srv.URL), digest.SHA1, testHash, 5, func() (io.ReadCloser, error) {
		t.Fatal("open should not be called on size conflict")
		return nil, nil
	})
	assert.Error(t, err)
}

func TestUploadPostsWhenAbsent(t *testing.T) {
	var posted []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posted, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(uploadResponse{Success: true})
			return
		}
		json.NewEncoder(w).Encode(checkResponse{Success: true, Found: false})
	}))
	defer srv.Close()

	err := Upload(testConfig(srv.URL), digest.SHA1, testHash, 5, func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("hello")), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(posted))
}
