package handlers

import (
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/yidakra/livevtt-sub000/log"
)

func (c *LiveVTTHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if _, err := io.WriteString(w, "OK"); err != nil {
			log.LogNoSegment("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}
