// Package pagination turns raw cursor query parameters into a bounded,
// directional fetch descriptor, and reconstitutes the page envelope from
// the fetched rows.
package pagination

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// DefaultLimit applies when the limit parameter is absent.
const DefaultLimit = 50

// Descriptor is the fetch window handed to the event store.
//
// Take always carries one extra row beyond Limit so a further page can be
// detected without a second round-trip; a negative Take means backward
// pagination. When Cursor is set, Skip excludes the cursor row itself.
type Descriptor struct {
	Limit  int
	Cursor string // internal event id, empty for no cursor
	Skip   int
	Take   int
}

// BadInputError marks client-caused parse failures (unparseable limit,
// undecodable cursor id). Handlers map it to a 400.
type BadInputError struct {
	msg string
}

func (e *BadInputError) Error() string { return e.msg }

// ParseQuery builds a Descriptor from limit/after_id/before_id parameters.
// mapID translates an external event id to its internal identifier; its
// failure propagates as a BadInputError. after_id wins when both cursors
// are present.
func ParseQuery(values url.Values, mapID func(string) (string, error)) (Descriptor, error) {
	limit := DefaultLimit
	if raw := values.Get("limit"); raw != "" {
		// Take is limit+1, so limit must stay in [1, MaxInt-1].
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n == math.MaxInt {
			return Descriptor{}, &BadInputError{msg: fmt.Sprintf("invalid limit %q", raw)}
		}
		limit = n
	}

	d := Descriptor{Limit: limit, Take: limit + 1}

	cursorParam := values.Get("after_id")
	backward := false
	if cursorParam == "" {
		cursorParam = values.Get("before_id")
		backward = cursorParam != ""
	}
	if cursorParam == "" {
		return d, nil
	}

	internal, err := mapID(cursorParam)
	if err != nil {
		return Descriptor{}, &BadInputError{msg: err.Error()}
	}
	d.Cursor = internal
	d.Skip = 1
	if backward {
		d.Take = -(limit + 1)
	}
	return d, nil
}

// Page builds the listing envelope from rows fetched with a Descriptor.
// The store returns rows already sorted in the requested direction; one
// extra row signals a further page and is truncated away. first_id and
// last_id are omitted when the truncated set is empty.
func Page(rows []models.Event, limit int) models.EventPage {
	page := models.EventPage{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	page.Data = make([]models.EventProjection, 0, len(rows))
	for i := range rows {
		page.Data = append(page.Data, rows[i].Projection())
	}
	if len(page.Data) > 0 {
		page.FirstID = page.Data[0].ID
		page.LastID = page.Data[len(page.Data)-1].ID
	}
	return page
}
