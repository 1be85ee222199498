package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6/limiter"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/filestore"
	"github.com/json420/dmedia/mediastore/transfer"
)

const (
	// FileRPS applies to the object routes that move file bytes.
	FileRPS = 100
	// GeneralRPS applies to everything else.
	GeneralRPS = 20

	DefaultExpirationTTL = time.Minute * 5
)

var (
	fileRL    *limiter.Limiter
	generalRL *limiter.Limiter
)

var storageHandler StorageHandler

// StorageHandler serves the object routes against one file store.
type StorageHandler struct {
	store *filestore.FileStore
}

func ConfigRateLimits() {
	tokenExpirettl := viper.GetDuration("rate_limiters.default_token_expire_duration")
	if tokenExpirettl <= 0 {
		tokenExpirettl = DefaultExpirationTTL
	}

	ipLookups := []string{"RemoteAddr", "X-Forwarded-For", "X-Real-IP"}

	isProxy := viper.GetBool("rate_limiters.proxy")
	if isProxy {
		ipLookups = []string{"X-Forwarded-For", "RemoteAddr", "X-Real-IP"}
	}

	fRps := viper.GetFloat64("rate_limiters.file_rps")
	gRps := viper.GetFloat64("rate_limiters.general_rps")

	if fRps <= 0 {
		fRps = FileRPS
	}

	if gRps <= 0 {
		gRps = GeneralRPS
	}

	logging.Logger.Info("Setting rps: ",
		zap.Float64("file_rps", fRps),
		zap.Float64("general_rps", gRps),
	)

	fileRL = common.GetRateLimiter(fRps, ipLookups, true, tokenExpirettl)
	generalRL = common.GetRateLimiter(gRps, ipLookups, true, tokenExpirettl)
}

func RateLimitByFileRL(handler common.ReqRespHandlerf) common.ReqRespHandlerf {
	return common.RateLimitByIP(handler, fileRL)
}

func RateLimitByGeneralRL(handler common.ReqRespHandlerf) common.ReqRespHandlerf {
	return common.RateLimitByIP(handler, generalRL)
}

/*SetupHandlers sets up the necessary API end points */
func SetupHandlers(r *mux.Router, store *filestore.FileStore) {
	storageHandler = StorageHandler{store: store}
	ConfigRateLimits()
	r.Use(useRecovery, useCORS())

	r.HandleFunc("/", RateLimitByGeneralRL(common.ToJSONResponse(InfoHandler))).
		Methods(http.MethodGet)

	r.HandleFunc("/{object}/meta", RateLimitByGeneralRL(common.ToJSONResponse(MetaHandler))).
		Methods(http.MethodGet)

	r.HandleFunc("/{object}", RateLimitByFileRL(storageHandler.DownloadHandler)).
		Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/{object}", RateLimitByFileRL(storageHandler.UploadHandler)).
		Methods(http.MethodPut)

	r.HandleFunc("/{object}", RateLimitByGeneralRL(storageHandler.FinalizeHandler)).
		Methods(http.MethodPost)
}

// MetaHandler serves the metadata document a downloading peer needs: the
// content hash, leaf by leaf. The canonical file is re-hashed to produce
// it, so this doubles as an on-demand integrity check.
func MetaHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	id, ext := splitObject(mux.Vars(r)["object"])
	store := storageHandler.store

	ch, err := store.Verify(id, ext)
	if err != nil {
		if cerr, ok := err.(*common.Error); ok && cerr.StatusCode == 0 {
			cerr.StatusCode = statusFor(cerr.Code)
		}
		return nil, err
	}
	return transfer.NewMetaDoc(ch, store.LeafSize(), store.Algo().Name), nil
}

// InfoHandler reports the store identity and capacity.
func InfoHandler(ctx context.Context, r *http.Request) (interface{}, error) {
	store := storageHandler.store
	available, total, err := store.DiskStatus()
	if err != nil {
		logging.Logger.Warn("reading disk status", zap.Error(err))
	}
	return map[string]interface{}{
		"store_id":        store.ID(),
		"digest":          store.Algo().Name,
		"leaf_size":       store.LeafSize(),
		"temp_bytes":      store.TempBytes(),
		"canonical_bytes": store.CanonBytes(),
		"disk_available":  available,
		"disk_total":      total,
	}, nil
}
