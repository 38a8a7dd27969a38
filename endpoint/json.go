package endpoint

import (
	"net/http"

	"github.com/go-chi/render"
)

// JSONRenderer serializes Value as JSON.
//
// Status defaults to 200. Encoding goes through go-chi/render, so the body
// has a trailing newline and HTML characters are not escaped.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, jr.Value)
	return nil
}
