package handler

import (
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/logging"
)

func useCORS() func(http.Handler) http.Handler {
	headersOk := handlers.AllowedHeaders([]string{
		"X-Requested-With", "Content-Type", "Content-Range", "Range",
	})

	// Allow anybody to access the API.
	originsOk := handlers.AllowedOrigins([]string{"*"})

	methodsOk := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT",
		"DELETE", "OPTIONS"})

	return handlers.CORS(originsOk, headersOk, methodsOk)
}

func useRecovery(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Logger.Error("[recover]http", zap.String("url", r.URL.String()), zap.Any("err", err))
			}
		}()

		h.ServeHTTP(w, r)
	})
}
