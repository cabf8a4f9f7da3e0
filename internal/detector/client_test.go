package detector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Detect(t *testing.T) {
	jpegBytes := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if len(data) != len(jpegBytes) || hdr.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"faces":[
			{"bbox":[10,20,110,220],"det_score":0.93,"pose":[-15.5,2,1],"embedding":[0.1,0.2,0.3]},
			{"bbox":[0,0,5,5],"det_score":0.2,"embedding":[1,0,0]}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 5*time.Second)
	dets, err := c.Detect(context.Background(), jpegBytes)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(dets))
	}
	d := dets[0]
	if d.BBox.Area() != 100*200 || d.Confidence != 0.93 || d.Pose.Yaw != -15.5 || len(d.Embedding) != 3 {
		t.Errorf("unexpected detection %+v", d)
	}
	if dets[1].Pose.Yaw != 0 {
		t.Errorf("missing pose should be zero, got %+v", dets[1].Pose)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		},
		"bad json": func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "{")
		},
		"short bbox": func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, `{"faces":[{"bbox":[1,2],"det_score":1,"embedding":[1]}]}`)
		},
		"empty embedding": func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, `{"faces":[{"bbox":[1,2,3,4],"det_score":1,"embedding":[]}]}`)
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if _, err := NewClient(srv.URL, time.Second).Detect(context.Background(), []byte("img")); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClient_ErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Detect(context.Background(), []byte("img"))
	if err == nil || !strings.Contains(err.Error(), "model not loaded") || !strings.Contains(err.Error(), "503") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, time.Second).Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := map[string]string{
		"\xFF\xD8\xFF\xE0aaaaaaaa":   "image/jpeg",
		"\x89PNG\r\n\x1a\naaaa":      "image/png",
		"RIFF\x00\x00\x00\x00WEBPxx": "image/webp",
		"BMaaaaaaaaaaaa":             "image/bmp",
		"short":                      "application/octet-stream",
	}
	for in, want := range tests {
		if got := detectMIMEType([]byte(in)); got != want {
			t.Errorf("detectMIMEType(%q) = %q, want %q", in, got, want)
		}
	}
}
