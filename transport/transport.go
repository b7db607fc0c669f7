// Package transport implements the signed HTTP protocol used to check,
// download from, and upload to a remote kachery server: the three
// operations check, get and set, each guarded by a signature derived from
// a shared channel password that is itself never transmitted.
package transport

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/config"
	"github.com/rly/kachery/digest"
)

var log = logging.MustGetLogger("transport")

// checkRetryDelays is the fixed backoff schedule for check GETs: 0.2s then
// 0.5s between the three total attempts. Not exponential — the delays are
// named exactly in the protocol, not derived from a growth factor.
var checkRetryDelays = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond}

// uploadLogThreshold is the file size above which an upload logs a
// human-readable progress line.
const uploadLogThreshold = 10000

func fixedBackoff(delays []time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		if attempt < 0 || attempt >= len(delays) {
			return 0
		}
		return delays[attempt]
	}
}

func newRetryingClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = len(checkRetryDelays)
	c.Backoff = fixedBackoff(checkRetryDelays)
	c.Logger = &httpLogWrapper{log}
	if os.Getenv("HTTP_VERBOSE") == "TRUE" {
		c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			log.Debug("HTTP %s %s (attempt %d)", req.Method, req.URL, attempt+1)
		}
		c.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
			log.Debug("HTTP %s -> %s", resp.Request.URL, resp.Status)
		}
	}
	return c
}

// httpLogWrapper adapts go-logging to retryablehttp.LeveledLogger.
type httpLogWrapper struct {
	*logging.Logger
}

func (w *httpLogWrapper) Error(msg string, keysAndValues ...interface{}) {
	w.Errorf("%v: %v", msg, keysAndValues)
}

func (w *httpLogWrapper) Info(msg string, keysAndValues ...interface{}) {
	w.Infof("%v: %v", msg, keysAndValues)
}

func (w *httpLogWrapper) Debug(msg string, keysAndValues ...interface{}) {
	w.Logger.Debug("%v: %v", msg, keysAndValues)
}

func (w *httpLogWrapper) Warn(msg string, keysAndValues ...interface{}) {
	w.Warningf("%v: %v", msg, keysAndValues)
}

// canonicalSignature computes sha1_hex(canonical_json({algorithm, hash,
// name, password})). encoding/json's default map-key ordering already
// produces the sorted, whitespace-free form the protocol requires, so the
// descriptor is built as a map rather than a hand-rolled encoder.
func canonicalSignature(algorithm digest.Algorithm, hash, name, password string) (string, error) {
	descriptor := map[string]string{
		"algorithm": string(algorithm),
		"hash":      hash,
		"name":      name,
		"password":  password,
	}
	b, err := json.Marshal(descriptor)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

func signedURL(cfg config.Config, op, name string, algorithm digest.Algorithm, hash string) (string, error) {
	if cfg.URL == "" || cfg.Channel == "" || cfg.Password == "" {
		return "", fmt.Errorf("transport: %s requires url, channel and password to be configured", op)
	}
	sig, err := canonicalSignature(algorithm, hash, name, cfg.Password)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/%s/%s/%s", cfg.URL, op, algorithm, hash)
	q := url.Values{"channel": {cfg.Channel}, "signature": {sig}}
	return u + "?" + q.Encode(), nil
}

// CheckResult is the decoded response of a check request.
type CheckResult struct {
	Found       bool
	Size        int64
	DownloadURL string
}

type checkResponse struct {
	Success bool   `json:"success"`
	Found   bool   `json:"found"`
	Size    int64  `json:"size"`
	Error   string `json:"error"`
}

// Check asks the remote whether (algorithm, hash) is present. A transient
// transport failure, or success=false in the response, is treated as "not
// found" with a logged warning, not an error: per spec.md §7 the happy
// path (cache hit) never fails except on I/O.
func Check(cfg config.Config, algorithm digest.Algorithm, hash string) (CheckResult, error) {
	u, err := signedURL(cfg, "check", "check", algorithm, hash)
	if err != nil {
		return CheckResult{}, err
	}
	req, err := retryablehttp.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return CheckResult{}, err
	}
	resp, err := newRetryingClient().Do(req)
	if err != nil {
		log.Warning("check request failed after retries: %s", err)
		return CheckResult{}, nil
	}
	defer resp.Body.Close()

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return CheckResult{}, fmt.Errorf("transport: decoding check response: %w", err)
	}
	if !cr.Success {
		log.Warning("check reported failure: %s", cr.Error)
		return CheckResult{}, nil
	}
	if !cr.Found {
		return CheckResult{}, nil
	}
	downloadURL, err := signedURL(cfg, "get", "download", algorithm, hash)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Found: true, Size: cr.Size, DownloadURL: downloadURL}, nil
}

// Download issues a GET against downloadURL and returns the response body
// for the caller (hashcache.DownloadFile) to stream and verify. The caller
// is responsible for closing the returned ReadCloser.
func Download(downloadURL string) (io.ReadCloser, error) {
	resp, err := http.Get(downloadURL)
	if err != nil {
		return nil, fmt.Errorf("transport: downloading: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: download returned status %s", resp.Status)
	}
	return resp.Body, nil
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Upload checks for presence first (eliding duplicate uploads) and, if
// absent, POSTs the file's bytes. A present object at a different size is
// a corruption signal, not silently accepted.
func Upload(cfg config.Config, algorithm digest.Algorithm, hash string, size int64, open func() (io.ReadCloser, error)) error {
	existing, err := Check(cfg, algorithm, hash)
	if err != nil {
		return err
	}
	if existing.Found {
		if existing.Size != size {
			return fmt.Errorf("transport: remote already has %s:%s at size %d, refusing to overwrite with size %d", algorithm, hash, existing.Size, size)
		}
		log.Debug("Skipping upload of %s:%s, already present remotely", algorithm, hash)
		return nil
	}

	u, err := signedURL(cfg, "set", "upload", algorithm, hash)
	if err != nil {
		return err
	}
	body, err := open()
	if err != nil {
		return err
	}
	defer body.Close()

	if size > uploadLogThreshold {
		log.Info("Uploading %s (%s)...", hash, humanize.Bytes(uint64(size)))
	}

	resp, err := http.Post(u, "application/octet-stream", body)
	if err != nil {
		return fmt.Errorf("transport: uploading: %w", err)
	}
	defer resp.Body.Close()

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return fmt.Errorf("transport: decoding upload response: %w", err)
	}
	if !ur.Success {
		return fmt.Errorf("transport: upload failed: %s", ur.Error)
	}
	return nil
}
