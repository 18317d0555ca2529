package pagination_test

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sessionrelay/sessionrelay/internal/pagination"
	"github.com/sessionrelay/sessionrelay/pkg/models"
)

// identityMap treats external ids as already internal.
func identityMap(external string) (string, error) {
	return "internal:" + external, nil
}

func TestParseQuery_Defaults(t *testing.T) {
	d, err := pagination.ParseQuery(url.Values{}, identityMap)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	want := pagination.Descriptor{Limit: 50, Cursor: "", Skip: 0, Take: 51}
	if d != want {
		t.Errorf("ParseQuery() = %+v, want %+v", d, want)
	}
}

func TestParseQuery_AfterID(t *testing.T) {
	v := url.Values{"limit": {"10"}, "after_id": {"evt_abc"}}
	d, err := pagination.ParseQuery(v, identityMap)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	want := pagination.Descriptor{Limit: 10, Cursor: "internal:evt_abc", Skip: 1, Take: 11}
	if d != want {
		t.Errorf("ParseQuery() = %+v, want %+v", d, want)
	}
}

func TestParseQuery_BeforeID(t *testing.T) {
	v := url.Values{"limit": {"10"}, "before_id": {"evt_abc"}}
	d, err := pagination.ParseQuery(v, identityMap)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	want := pagination.Descriptor{Limit: 10, Cursor: "internal:evt_abc", Skip: 1, Take: -11}
	if d != want {
		t.Errorf("ParseQuery() = %+v, want %+v", d, want)
	}
}

func TestParseQuery_AfterWinsOverBefore(t *testing.T) {
	v := url.Values{"after_id": {"a"}, "before_id": {"b"}}
	d, err := pagination.ParseQuery(v, identityMap)
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if d.Cursor != "internal:a" || d.Take != 51 {
		t.Errorf("ParseQuery() = %+v, want forward cursor on after_id", d)
	}
}

func TestParseQuery_NonNumericLimit(t *testing.T) {
	v := url.Values{"limit": {"abc"}}
	_, err := pagination.ParseQuery(v, identityMap)
	var bad *pagination.BadInputError
	if !errors.As(err, &bad) {
		t.Fatalf("ParseQuery() error = %v, want BadInputError", err)
	}
}

func TestParseQuery_NonPositiveLimit(t *testing.T) {
	for _, raw := range []string{"-1", "0", "-50", "9223372036854775807"} {
		v := url.Values{"limit": {raw}}
		_, err := pagination.ParseQuery(v, identityMap)
		var bad *pagination.BadInputError
		if !errors.As(err, &bad) {
			t.Errorf("ParseQuery(limit=%s) error = %v, want BadInputError", raw, err)
		}
	}
}

func TestParseQuery_MapIDFailure(t *testing.T) {
	failing := func(string) (string, error) { return "", errors.New("bad external id") }
	v := url.Values{"after_id": {"garbage"}}
	_, err := pagination.ParseQuery(v, failing)
	var bad *pagination.BadInputError
	if !errors.As(err, &bad) {
		t.Fatalf("ParseQuery() error = %v, want BadInputError", err)
	}
}

func makeEvents(n int) []models.Event {
	events := make([]models.Event, n)
	for i := range events {
		events[i] = models.Event{
			ID:          uuid.New().String(),
			SequenceNum: int64(i + 1),
			Role:        "assistant",
			Content:     "row",
			CreatedAt:   time.Now().UTC(),
		}
	}
	return events
}

func TestPage_HasMoreTruncates(t *testing.T) {
	rows := makeEvents(4) // limit+1 for limit=3
	page := pagination.Page(rows, 3)

	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	if len(page.Data) != 3 {
		t.Fatalf("len(Data) = %d, want 3", len(page.Data))
	}
	if page.FirstID != page.Data[0].ID {
		t.Errorf("FirstID = %q, want first truncated row %q", page.FirstID, page.Data[0].ID)
	}
	if page.LastID != page.Data[2].ID {
		t.Errorf("LastID = %q, want last truncated row %q", page.LastID, page.Data[2].ID)
	}
}

func TestPage_ExactLimit(t *testing.T) {
	rows := makeEvents(3)
	page := pagination.Page(rows, 3)

	if page.HasMore {
		t.Error("HasMore = true, want false")
	}
	if len(page.Data) != 3 {
		t.Errorf("len(Data) = %d, want 3", len(page.Data))
	}
}

func TestPage_Empty(t *testing.T) {
	page := pagination.Page(nil, 50)

	if page.HasMore {
		t.Error("HasMore = true, want false")
	}
	if len(page.Data) != 0 {
		t.Errorf("len(Data) = %d, want 0", len(page.Data))
	}
	if page.FirstID != "" || page.LastID != "" {
		t.Errorf("FirstID/LastID = %q/%q, want both empty", page.FirstID, page.LastID)
	}
}

func TestPage_Idempotence(t *testing.T) {
	rows := makeEvents(5)
	a := pagination.Page(rows, 10)
	b := pagination.Page(rows, 10)
	if a.FirstID != b.FirstID || a.LastID != b.LastID || a.HasMore != b.HasMore {
		t.Error("Page() is not deterministic for identical input")
	}
}
