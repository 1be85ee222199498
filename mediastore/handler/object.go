package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/filestore"
	"github.com/json420/dmedia/mediastore/hashtree"
	"github.com/json420/dmedia/mediastore/rangeproto"
)

// splitObject splits the {object} path segment into a content id and an
// optional extension, at the first dot.
func splitObject(object string) (id, ext string) {
	if i := strings.Index(object, "."); i >= 0 {
		return object[:i], object[i+1:]
	}
	return object, ""
}

// statusFor maps error codes that the lower layers leave without a status
// onto the response codes of the transfer protocol.
func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "hash_mismatch", "leaf_hash_mismatch":
		return http.StatusPreconditionFailed
	case "range_unsatisfiable":
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusBadRequest
	}
}

func respondErr(w http.ResponseWriter, err error) {
	if cerr, ok := err.(*common.Error); ok && cerr.StatusCode == 0 {
		cerr.StatusCode = statusFor(cerr.Code)
	}
	common.Respond(w, nil, err)
}

// DownloadHandler serves a canonical file, whole or by byte range. Ranges
// use the single-range bytes grammar; an unsatisfiable range answers 416
// with the total size in a Content-Range header.
func (sh *StorageHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	id, ext := splitObject(mux.Vars(r)["object"])

	f, err := sh.store.OpenForRead(id, ext)
	if err != nil {
		respondErr(w, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		respondErr(w, err)
		return
	}
	size := fi.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")

	rangeHdr := r.Header.Get("Range")
	if rangeHdr == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, f); err != nil {
			logging.Logger.Warn("streaming file", zap.String("id", id), zap.Error(err))
		}
		return
	}

	br, err := rangeproto.Parse(rangeHdr)
	if err != nil {
		respondErr(w, err)
		return
	}
	offset, length, err := br.Slice(size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		respondErr(w, err)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", rangeproto.ContentRange(offset, length, size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, io.NewSectionReader(f, offset, length)); err != nil {
		logging.Logger.Warn("streaming range", zap.String("id", id), zap.Error(err))
	}
}

// UploadHandler accepts one leaf-aligned chunk of a resumable upload. The
// Content-Range header names the chunk's absolute position and the total
// file size; the bytes land in the transfer temp for the object's id. The
// content is not verified here, only at finalize.
func (sh *StorageHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	id, ext := splitObject(mux.Vars(r)["object"])

	if sh.store.Exists(id, ext) {
		respondErr(w, common.NewErrorfWithStatusCode(http.StatusConflict, "conflict",
			"%s is already canonical", id))
		return
	}

	cr := r.Header.Get("Content-Range")
	if cr == "" {
		respondErr(w, common.NewError("invalid_request", "Content-Range header is required"))
		return
	}
	start, end, total, err := rangeproto.ParseContentRange(cr)
	if err != nil {
		respondErr(w, err)
		return
	}
	br := rangeproto.ByteRange{Start: start, End: end}
	if _, _, err := rangeproto.ToLeaves(br, sh.store.LeafSize(), total); err != nil {
		respondErr(w, err)
		return
	}
	length := end - start + 1

	temp, err := sh.store.AllocateTransferTemp(total, id, ext)
	if err != nil {
		respondErr(w, err)
		return
	}
	defer func() {
		// Keeps the temp on disk for later chunks, only the handle is
		// released.
		if err := temp.Discard(); err != nil {
			logging.Logger.Warn("releasing transfer temp", zap.String("id", id), zap.Error(err))
		}
	}()

	n, err := io.Copy(io.NewOffsetWriter(temp, start), io.LimitReader(r.Body, length))
	if err != nil {
		respondErr(w, err)
		return
	}
	if n != length {
		respondErr(w, common.NewErrorf("invalid_request",
			"body is %d bytes, Content-Range promises %d", n, length))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"id":%q,"accepted":%d}`+"\n", id, n)
}

// FinalizeHandler verifies the assembled transfer temp against the id it
// was uploaded under and commits it into the canonical layout. A mismatch
// answers 412 and leaves the temp in place so the client can re-upload the
// bad leaves; committing content that raced into place elsewhere answers
// 409.
func (sh *StorageHandler) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	id, ext := splitObject(mux.Vars(r)["object"])

	if sh.store.Exists(id, ext) {
		respondErr(w, common.NewErrorfWithStatusCode(http.StatusConflict, "conflict",
			"%s is already canonical", id))
		return
	}

	temp, err := sh.store.AllocateTransferTemp(0, id, ext)
	if err != nil {
		respondErr(w, err)
		return
	}

	size, err := temp.Size()
	if err != nil {
		temp.Discard() //nolint:errcheck
		respondErr(w, err)
		return
	}
	if size == 0 {
		// A finalize with no prior upload allocated this temp; delete it
		// instead of leaving a zero-byte orphan in transfers/.
		if temp.Existed() {
			temp.Discard() //nolint:errcheck
		} else {
			temp.Remove() //nolint:errcheck
		}
		respondErr(w, common.NewErrorf("invalid_request", "no uploaded content for %s", id))
		return
	}

	ch, _, err := hashtree.HashStream(io.NewSectionReader(temp, 0, size), size,
		sh.store.LeafSize(), sh.store.Algo(), nil)
	if err != nil {
		temp.Discard() //nolint:errcheck
		respondErr(w, err)
		return
	}
	if ch.ID != id {
		temp.Discard() //nolint:errcheck
		respondErr(w, common.NewErrorfWithStatusCode(http.StatusPreconditionFailed, "hash_mismatch",
			"uploaded content hashes to %s, not %s", ch.ID, id))
		return
	}

	if _, err := sh.store.MoveIntoPlace(temp, id, ext); err != nil {
		if filestore.IsDuplicate(err) {
			respondErr(w, common.NewErrorfWithStatusCode(http.StatusConflict, "conflict",
				"%s is already canonical", id))
			return
		}
		respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"id":%q,"size":%d}`+"\n", id, size)
}
