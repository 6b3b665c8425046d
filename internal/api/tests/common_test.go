package api_test

import (
	"encoding/json"
	"net/http/httptest"
)

// unmarshalBody decodes a recorded response body into out
func unmarshalBody(w *httptest.ResponseRecorder, out interface{}) error {
	return json.Unmarshal(w.Body.Bytes(), out)
}
