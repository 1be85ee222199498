package common

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// AppErrorHeader - a http response header to send an application error code.
	AppErrorHeader = "X-App-Error-Code"
)

/*ReqRespHandlerf - a type for the default handler signature */
type ReqRespHandlerf func(w http.ResponseWriter, r *http.Request)

/*JSONResponderF - a handler that takes a standard request and responds with a json response */
type JSONResponderF func(ctx context.Context, r *http.Request) (interface{}, error)

/*Respond - respond either data or error as a response */
func Respond(w http.ResponseWriter, data interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err != nil {
		body := make(map[string]interface{}, 2)
		body["error"] = err.Error()
		status := http.StatusBadRequest
		if cerr, ok := err.(*Error); ok {
			body["code"] = cerr.Code
			w.Header().Set(AppErrorHeader, cerr.Code)
			if cerr.StatusCode != 0 {
				status = cerr.StatusCode
			}
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	} else if data != nil {
		json.NewEncoder(w).Encode(data) //nolint:errcheck
	}
}

/*ToJSONResponse - An adapter that takes a handler of the form
* func AHandler(ctx context.Context, r *http.Request) (interface{}, error)
* which takes a request object, processes and returns an object or an error
* and converts into a standard request/response handler
 */
func ToJSONResponse(handler JSONResponderF) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		data, err := handler(ctx, r)
		Respond(w, data, err)
	}
}

// ToByteStream is like ToJSONResponse but responds with raw bytes when the
// handler returns a []byte.
func ToByteStream(handler JSONResponderF) ReqRespHandlerf {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		data, err := handler(ctx, r)
		if err != nil {
			Respond(w, nil, err)
			return
		}
		if rawdata, ok := data.([]byte); ok {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(rawdata)))
			w.Write(rawdata) //nolint:errcheck
			return
		}
		Respond(w, data, nil)
	}
}
