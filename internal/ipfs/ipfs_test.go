package ipfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// A well-formed CIDv1 used as a canned node response.
const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

func fakeNode(t *testing.T, status int, hash string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/add" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.MultipartForm == nil || len(r.MultipartForm.File["file"]) != 1 {
			t.Error("missing file part")
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"Name": "crop.jpg",
			"Hash": hash,
			"Size": "1024",
		})
	}))
}

func TestAdd(t *testing.T) {
	srv := fakeNode(t, http.StatusOK, testCID)
	defer srv.Close()

	c := NewClient(srv.URL, "https://gateway.example")
	res, err := c.Add(context.Background(), []byte("image bytes"), "crop.jpg")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if res.CID != testCID {
		t.Errorf("cid = %s, want %s", res.CID, testCID)
	}
	if want := "https://gateway.example/ipfs/" + testCID; res.URL != want {
		t.Errorf("url = %s, want %s", res.URL, want)
	}
}

func TestAddRejectsInvalidCID(t *testing.T) {
	srv := fakeNode(t, http.StatusOK, "not-a-cid")
	defer srv.Close()

	c := NewClient(srv.URL, "https://gateway.example")
	if _, err := c.Add(context.Background(), []byte("x"), "crop.jpg"); err == nil {
		t.Fatal("Add accepted an invalid cid")
	}
}

func TestAddPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "https://gateway.example")
	if _, err := c.Add(context.Background(), []byte("x"), "crop.jpg"); err == nil {
		t.Fatal("Add ignored a 500 response")
	}
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient("", "https://gateway.example")
	if c.Configured() {
		t.Error("client without API URL reports configured")
	}
	if _, err := c.Add(context.Background(), []byte("x"), "crop.jpg"); err == nil {
		t.Error("Add succeeded without an API URL")
	}
}
