package update

import (
	"context"
	"crypto/md5"  //nolint:gosec // G501: feeds declare md5 digests; integrity check only
	"crypto/sha1" //nolint:gosec // G505: feeds declare sha1 digests; integrity check only
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"updraft/internal/appcast"
	"updraft/internal/archive"
	"updraft/internal/debug"
	apperrors "updraft/internal/errors"
	"updraft/internal/hook"
	"updraft/internal/transport"
)

// HookRunner runs post-install hooks. *hook.Runner implements it.
type HookRunner interface {
	RunAll(ctx context.Context, paths []string, targetDir string) []hook.Result
}

// Updater downloads, verifies and installs the head release of a feed.
type Updater struct {
	httpClient    *http.Client
	transportOpts transport.Options
	hooks         HookRunner
	deleteArchive bool
	tempDir       string
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithUpdaterHTTPClient sets the HTTP client used for downloads.
func WithUpdaterHTTPClient(client *http.Client) UpdaterOption {
	return func(u *Updater) {
		u.httpClient = client
	}
}

// WithTransportOptions sets the network options used to build the download
// client when none is given explicitly.
func WithTransportOptions(opts transport.Options) UpdaterOption {
	return func(u *Updater) {
		u.transportOpts = opts
	}
}

// WithHookRunner sets the hook runner. nil disables hooks.
func WithHookRunner(r HookRunner) UpdaterOption {
	return func(u *Updater) {
		u.hooks = r
	}
}

// WithDeleteArchive controls whether an unpacked archive is removed.
func WithDeleteArchive(del bool) UpdaterOption {
	return func(u *Updater) {
		u.deleteArchive = del
	}
}

// WithTempDir sets where partial downloads are written. Empty means the
// system temp directory.
func WithTempDir(dir string) UpdaterOption {
	return func(u *Updater) {
		u.tempDir = dir
	}
}

// NewUpdater creates an updater with hooks enabled and archives removed after
// unpacking.
func NewUpdater(opts ...UpdaterOption) *Updater {
	u := &Updater{
		transportOpts: transport.DefaultOptions(),
		hooks:         hook.NewRunner(),
		deleteArchive: true,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Update installs the head release of feed into targetDir and returns the
// files it produced. Archives are unpacked; any installed file that is a
// hook script is then run. Hook failures are logged, never returned.
func (u *Updater) Update(ctx context.Context, feed *appcast.Appcast, targetDir string) (archive.FileSet, error) {
	payload, err := u.Download(ctx, feed, targetDir)
	if err != nil {
		return nil, err
	}

	files, err := archive.Unpack(payload, targetDir, u.deleteArchive)
	if err != nil {
		return nil, err
	}

	if u.hooks != nil {
		u.hooks.RunAll(ctx, files.Paths(), targetDir)
	}
	return files, nil
}

// Download fetches the head release of feed, verifies it and places it in
// targetDir under the last path segment of its URL, replacing any file of
// that name. Nothing is written to targetDir unless verification passes, and
// the partial download is removed on every path.
func (u *Updater) Download(ctx context.Context, feed *appcast.Appcast, targetDir string) (string, error) {
	if feed == nil {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "no feed given", nil)
	}
	enc := feed.LatestEnclosure()
	if enc == nil || strings.TrimSpace(enc.URL) == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "feed has no downloadable release", nil)
	}
	name, err := enc.FileName()
	if err != nil {
		return "", apperrors.New(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	if strings.TrimSpace(targetDir) == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "no target directory given", nil)
	}

	client, err := u.client()
	if err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("configure download: %v", err), err)
	}

	tmp, err := os.CreateTemp(u.tempDir, "updraft-*.part")
	if err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, "create temporary file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			debug.Warnf("remove temporary file %s: %v", tmpPath, err)
		}
	}()

	debug.Infof("downloading %s", enc.URL)
	sums, err := fetchTo(ctx, client, strings.TrimSpace(enc.URL), tmp, u.readTimeout())
	if err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, "flush temporary file", err)
	}

	if err := verify(enc, sums); err != nil {
		return "", err
	}

	dest, err := install(tmpPath, targetDir, name)
	if err != nil {
		return "", err
	}
	debug.Infof("downloaded %s (%d bytes) to %s", name, sums.size, dest)
	return dest, nil
}

func (u *Updater) client() (*http.Client, error) {
	if u.httpClient != nil {
		return u.httpClient, nil
	}
	return transport.NewClient(u.transportOpts)
}

// readTimeout is the longest a download may go without receiving data.
func (u *Updater) readTimeout() time.Duration {
	if u.transportOpts.ReadTimeout > 0 {
		return u.transportOpts.ReadTimeout
	}
	return transport.DefaultReadTimeout
}

// digests holds what was observed while streaming a download.
type digests struct {
	size int64
	md5  string
	sha1 string
}

// fetchTo streams url into w. The transfer is cancelled when the body
// delivers nothing for idle.
func fetchTo(ctx context.Context, client *http.Client, url string, w io.Writer, idle time.Duration) (digests, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return digests{}, apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("create request: %v", err), err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return digests{}, apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("download %s: %v", url, err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return digests{}, apperrors.New(apperrors.CodeDownloadFailed,
			fmt.Sprintf("download %s: status %d", url, resp.StatusCode), nil)
	}

	//nolint:gosec // G401: md5 and sha1 match the digests feeds publish
	md5h, sha1h := md5.New(), sha1.New()
	body := newIdleReader(resp.Body, idle, cancel)
	n, err := io.Copy(io.MultiWriter(w, md5h, sha1h), body)
	body.stop()
	if err != nil {
		if body.expired() {
			return digests{}, apperrors.New(apperrors.CodeDownloadFailed,
				fmt.Sprintf("download %s: no data received for %s", url, idle), err)
		}
		return digests{}, apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("download %s: %v", url, err), err)
	}
	return digests{
		size: n,
		md5:  hex.EncodeToString(md5h.Sum(nil)),
		sha1: hex.EncodeToString(sha1h.Sum(nil)),
	}, nil
}

// idleReader calls cancel when no Read delivers data within timeout. Each
// successful Read re-arms the timer.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func (ir *idleReader) expired() bool {
	return ir.fired.Load()
}

// verify checks the download against what the enclosure declares. A length
// of zero and empty digests are not checked.
func verify(enc *appcast.Enclosure, got digests) error {
	if enc.Length > 0 && enc.Length != got.size {
		return apperrors.New(apperrors.CodeVerificationFailed,
			fmt.Sprintf("Downloaded file has wrong size! Expected: %d -- Actual: %d", enc.Length, got.size), nil)
	}
	if err := compareDigest("md5", enc.MD5, got.md5); err != nil {
		return err
	}
	if err := compareDigest("sha1", enc.SHA1, got.sha1); err != nil {
		return err
	}
	if enc.DSASignature != "" {
		debug.Debugf("release declares a DSA signature; signatures are not verified")
	}
	return nil
}

func compareDigest(algo, expected, actual string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}
	if expected != actual {
		return apperrors.New(apperrors.CodeVerificationFailed,
			fmt.Sprintf("%s checksum mismatch: expected %s, got %s", algo, expected, actual), nil)
	}
	return nil
}

// install copies src into dir as name, replacing an existing file. The copy
// goes to a uniquely named sibling first so a failed copy never leaves a
// truncated file under the final name.
func install(src, dir, name string) (string, error) {
	//nolint:gosec // G301: install directories need standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("create target directory: %v", err), err)
	}
	if err := checkWritePermission(dir); err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("target directory not writable: %v", err), err)
	}

	dest := filepath.Join(dir, name)
	staging, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("stage %s: %v", dest, err), err)
	}
	stagingPath := staging.Name()
	if err := copyInto(src, staging); err != nil {
		_ = os.Remove(stagingPath)
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("copy to %s: %v", dest, err), err)
	}
	//nolint:gosec // G302: installed payloads are world-readable like any release file
	if err := os.Chmod(stagingPath, 0644); err != nil {
		_ = os.Remove(stagingPath)
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("set mode on %s: %v", dest, err), err)
	}
	if err := os.Rename(stagingPath, dest); err != nil {
		_ = os.Remove(stagingPath)
		return "", apperrors.New(apperrors.CodeDownloadFailed, fmt.Sprintf("move to %s: %v", dest, err), err)
	}
	return dest, nil
}

// copyInto copies src into out and closes out.
func copyInto(src string, out *os.File) error {
	//nolint:gosec // G304: src is our own temporary download
	in, err := os.Open(src)
	if err != nil {
		_ = out.Close()
		return err
	}
	defer func() { _ = in.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// checkWritePermission verifies the current process can create files in dir.
func checkWritePermission(dir string) error {
	f, err := os.CreateTemp(dir, ".updraft-write-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}
