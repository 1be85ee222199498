package transfer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/filestore"
	"github.com/json420/dmedia/mediastore/hashtree"
	"github.com/json420/dmedia/mediastore/rangeproto"
)

// DefaultLeafAttempts is the per-leaf attempt budget before a download
// fails.
const DefaultLeafAttempts = 3

// HTTPBackend transfers files against the HTTP surface in this repository's
// handler package: leaf-aligned GET with a Range header for downloads,
// leaf-aligned PUT with a Content-Range header plus a finalizing POST for
// uploads.
type HTTPBackend struct {
	client        *http.Client
	reporter      Reporter
	leafAttempts  int
	retryInterval time.Duration
}

func NewHTTPBackend(client *http.Client, reporter Reporter, leafAttempts int, retryInterval time.Duration) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if leafAttempts < 1 {
		leafAttempts = DefaultLeafAttempts
	}
	if retryInterval <= 0 {
		retryInterval = 250 * time.Millisecond
	}
	return &HTTPBackend{
		client:        client,
		reporter:      reporter,
		leafAttempts:  leafAttempts,
		retryInterval: retryInterval,
	}
}

// Factory adapts the backend for a Registry.
func (b *HTTPBackend) Factory() BackendFactory {
	return func() (Backend, error) { return b, nil }
}

func (b *HTTPBackend) newBackOff(ctx context.Context, retries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.retryInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Download fetches doc into store, resuming any prior partial transfer and
// requesting only missing leaves.
func (b *HTTPBackend) Download(ctx context.Context, doc *FileDoc, store *filestore.FileStore) error {
	if store.Exists(doc.Hash.ID, doc.Ext) {
		return nil
	}

	sess, err := NewDownloadSession(store, doc.Hash, doc.Ext, b.reporter)
	if err != nil {
		return err
	}
	finalized := false
	defer func() {
		if !finalized {
			if cErr := sess.Close(); cErr != nil {
				logging.Logger.Warn("closing download session", zap.Error(cErr))
			}
		}
	}()

	for {
		start, stop, ok := sess.NextRange()
		if !ok {
			break
		}
		if err := b.fetchRange(ctx, doc, store, sess, start, stop); err != nil {
			return err
		}
	}

	if _, err := sess.Finalize(); err != nil {
		return err
	}
	finalized = true
	return nil
}

// fetchRange requests [start, stop) in one GET and accepts each leaf as it
// streams in. Rejected leaves are retried individually afterwards.
func (b *HTTPBackend) fetchRange(ctx context.Context, doc *FileDoc, store *filestore.FileStore, sess *DownloadSession, start, stop int) error {
	fileSize := doc.Hash.FileSize
	leafSize := store.LeafSize()

	br, err := rangeproto.FromLeaves(start, stop, leafSize, fileSize)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", br.Header())

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "range GET")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return httpStatusError(resp)
	}
	// A 200 means the server ignored the Range header and is sending the
	// whole file; skip ahead to the requested offset.
	if resp.StatusCode == http.StatusOK && br.Start > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, br.Start); err != nil {
			return errors.Wrap(err, "skipping to range start")
		}
	}

	var rejected []int
	for i := start; i < stop; i++ {
		buf := make([]byte, hashtree.LeafSizeAt(i, fileSize, leafSize))
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return errors.Wrapf(err, "reading leaf %d from response body", i)
		}
		err := sess.AcceptLeaf(i, buf)
		var ie *IntegrityError
		if errors.As(err, &ie) {
			logging.Logger.Warn("rejected leaf, will re-request",
				zap.String("id", doc.Hash.ID), zap.Int("leaf", i))
			rejected = append(rejected, i)
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, i := range rejected {
		if err := b.retryLeaf(ctx, doc, store, sess, i); err != nil {
			return err
		}
	}
	return nil
}

// retryLeaf re-requests a single rejected leaf until it verifies or the
// attempt budget (including the original range attempt) is exhausted.
func (b *HTTPBackend) retryLeaf(ctx context.Context, doc *FileDoc, store *filestore.FileStore, sess *DownloadSession, index int) error {
	expected := hashtree.EncodeID(doc.Hash.LeafHashes[index])
	fail := &DownloadFailure{Index: index, Expected: expected, Attempts: b.leafAttempts}

	retries := b.leafAttempts - 2 // one attempt already spent in the range fetch
	if retries < 0 {
		return fail
	}

	op := func() error {
		data, err := b.fetchLeaf(ctx, doc, store, index)
		if err != nil {
			if common.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := sess.AcceptLeaf(index, data); err != nil {
			var ie *IntegrityError
			if errors.As(err, &ie) {
				fail.LastGot = ie.Got
				return ie
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(op, b.newBackOff(ctx, retries))
	if err != nil {
		var ie *IntegrityError
		if errors.As(err, &ie) {
			return fail
		}
		return err
	}
	return nil
}

func (b *HTTPBackend) fetchLeaf(ctx context.Context, doc *FileDoc, store *filestore.FileStore, index int) ([]byte, error) {
	fileSize := doc.Hash.FileSize
	leafSize := store.LeafSize()

	br, err := rangeproto.FromLeaves(index, index+1, leafSize, fileSize)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", br.Header())

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "leaf %d GET", index)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp)
	}
	if resp.StatusCode == http.StatusOK && br.Start > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, br.Start); err != nil {
			return nil, errors.Wrapf(err, "skipping to leaf %d", index)
		}
	}

	buf := make([]byte, hashtree.LeafSizeAt(index, fileSize, leafSize))
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, errors.Wrapf(err, "reading leaf %d body", index)
	}
	return buf, nil
}

// Upload pushes a canonical file to the remote peer leaf by leaf, then asks
// the peer to finalize. A 409 from the peer means it already has the
// content, which is success.
func (b *HTTPBackend) Upload(ctx context.Context, doc *FileDoc, store *filestore.FileStore) error {
	f, err := store.OpenForRead(doc.Hash.ID, doc.Ext)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	fileSize := doc.Hash.FileSize
	if fi.Size() != fileSize {
		return common.NewErrorf("hash_mismatch", "canonical file is %d bytes, doc says %d", fi.Size(), fileSize)
	}

	leafSize := store.LeafSize()
	count := hashtree.LeafCount(fileSize, leafSize)
	var sent int64

	for i := 0; i < count; i++ {
		offset := int64(i) * leafSize
		buf := make([]byte, hashtree.LeafSizeAt(i, fileSize, leafSize))
		if _, err := f.ReadAt(buf, offset); err != nil {
			return errors.Wrapf(err, "reading leaf %d", i)
		}

		done := false
		op := func() error {
			status, err := b.putLeaf(ctx, doc.URL, buf, offset, fileSize)
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				done = true // peer already has the file
			}
			return nil
		}
		if err := backoff.Retry(op, b.newBackOff(ctx, b.leafAttempts-1)); err != nil {
			return err
		}
		if done {
			return nil
		}

		sent += int64(len(buf))
		b.reporter.Report(Event{HashID: doc.Hash.ID, Bytes: sent})
	}

	if err := b.finalizeUpload(ctx, doc.URL); err != nil {
		return err
	}
	b.reporter.Report(Event{HashID: doc.Hash.ID, Bytes: sent, Done: true})
	return nil
}

func (b *HTTPBackend) putLeaf(ctx context.Context, url string, data []byte, offset, fileSize int64) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Range", rangeproto.ContentRange(offset, int64(len(data)), fileSize))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "leaf PUT")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict:
		return resp.StatusCode, nil
	}
	err = httpStatusError(resp)
	if !common.IsRetryable(err) {
		return 0, backoff.Permanent(err)
	}
	return 0, err
}

func (b *HTTPBackend) finalizeUpload(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "finalize POST")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusConflict:
		return nil
	}
	return httpStatusError(resp)
}

// httpStatusError maps a response status into the error taxonomy: 5xx and
// 409 are retryable, the rest of the 4xx family is not.
func httpStatusError(resp *http.Response) error {
	code := "http_error"
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusBadRequest:
		code = "invalid_request"
	case http.StatusConflict:
		code = "conflict"
	case http.StatusRequestedRangeNotSatisfiable:
		code = "range_unsatisfiable"
	case http.StatusPreconditionFailed:
		code = "leaf_hash_mismatch"
	}
	return common.NewErrorfWithStatusCode(resp.StatusCode, code,
		"unexpected status %s from %s", resp.Status, resp.Request.URL)
}

var _ Backend = (*HTTPBackend)(nil)
