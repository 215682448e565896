package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(WithBaseURL(srv.URL), WithAPIToken("secret"))
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return c
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	t.Setenv("CATALOG_BASE_URL", "")
	if _, err := NewHTTPClient(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewHTTPClientFallsBackToEnvironment(t *testing.T) {
	t.Setenv("CATALOG_BASE_URL", "https://catalog.example.com/")
	c, err := NewHTTPClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != "https://catalog.example.com" {
		t.Errorf("expected trimmed base url, got %q", c.baseURL)
	}
}

func TestListItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/items" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("expected limit=5, got %q", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode([]Item{{ID: "1", Name: "Blue Mug", Price: 9.99, Quantity: 3}})
	})

	items, err := c.ListItems(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Blue Mug" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestListItemsDefaultsLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("expected default limit, got %q", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode([]Item{})
	})
	if _, err := c.ListItems(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/items" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in ItemInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if in.GeneratedID != "abc-123" || in.Name != "Blue Mug" {
			t.Errorf("unexpected input: %+v", in)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Item{ID: in.GeneratedID, Name: in.Name, Price: in.Price, Quantity: in.Quantity})
	})

	item, err := c.CreateItem(context.Background(), ItemInput{
		GeneratedID: "abc-123", Name: "Blue Mug", Price: 9.99, Quantity: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.ID != "abc-123" || item.Name != "Blue Mug" {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestCreateItemValidatesBeforeSending(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	cases := []struct {
		input ItemInput
		want  error
	}{
		{ItemInput{Name: "x", Price: 1, Quantity: 1}, ErrEmptyItemID},
		{ItemInput{GeneratedID: "1", Name: "  ", Price: 1, Quantity: 1}, ErrEmptyItemName},
		{ItemInput{GeneratedID: "1", Name: "x", Price: 0, Quantity: 1}, ErrInvalidInput},
		{ItemInput{GeneratedID: "1", Name: "x", Price: 1, Quantity: -1}, ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := c.CreateItem(context.Background(), tc.input); !errors.Is(err, tc.want) {
			t.Errorf("input %+v: expected %v, got %v", tc.input, tc.want, err)
		}
	}
	if called {
		t.Error("invalid input must not reach the backend")
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, "", ErrUnauthorized},
		{http.StatusForbidden, "", ErrForbidden},
		{http.StatusNotFound, "", ErrNotFound},
		{http.StatusConflict, "", ErrDuplicateID},
		{http.StatusBadRequest, `{"code":"bad_price","message":"price"}`, ErrInvalidInput},
		{http.StatusBadRequest, `{"code":"image_upload_failed"}`, ErrImageUpload},
		{http.StatusUnprocessableEntity, "", ErrInvalidInput},
		{http.StatusInternalServerError, "", ErrServer},
		{http.StatusBadGateway, `{"code":"image_upload_failed"}`, ErrImageUpload},
		{http.StatusTeapot, "", ErrUnknown},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})
		_, err := c.ListItems(context.Background(), 1)
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(WithBaseURL(url))
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	if _, err := c.ListItems(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestMalformedResponseIsUnknown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	if _, err := c.ListItems(context.Background(), 1); !errors.Is(err, ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
}

func TestMockClientDuplicateID(t *testing.T) {
	m := NewMockClient()
	input := ItemInput{GeneratedID: "1", Name: "Mug", Price: 2, Quantity: 1}
	if _, err := m.CreateItem(context.Background(), input); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := m.CreateItem(context.Background(), input); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID on repeated id, got %v", err)
	}
	if len(m.CreateLog) != 2 {
		t.Errorf("expected both attempts logged, got %d", len(m.CreateLog))
	}
}

func TestMockClientListTruncates(t *testing.T) {
	m := NewMockClient()
	m.Items = []Item{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	items, err := m.ListItems(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected truncated list, got %d items", len(items))
	}
}
