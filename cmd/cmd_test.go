package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/store"
)

const (
	userA = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	userB = "6fa459ea-ee8a-3ca4-894e-db77e160355e"
)

// setupCLI points the CLI at a bolt store in a temp dir and an HTTP
// detector that always returns one face with embedding.
func setupCLI(t *testing.T, embedding []float32) (boltPath string, c *codec.Codec) {
	t.Helper()

	key, err := codec.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err = codec.New(key)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/detect":
			json.NewEncoder(w).Encode(map[string]any{
				"faces": []map[string]any{{
					"bbox":      []float64{0, 0, 50, 50},
					"det_score": 0.95,
					"pose":      []float64{0, 0, 0},
					"embedding": embedding,
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	boltPath = filepath.Join(t.TempDir(), "faceauth.db")
	t.Setenv("EMBEDDING_SECRET_KEY", key)
	t.Setenv("STORE_BACKEND", "bolt")
	t.Setenv("BOLT_PATH", boltPath)
	t.Setenv("DETECTOR", "http")
	t.Setenv("DETECTOR_URL", srv.URL)
	return boltPath, c
}

func seed(t *testing.T, path string, c *codec.Codec, users map[string][]float32) {
	t.Helper()
	db, err := store.NewBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for id, v := range users {
		blob, err := c.Encode(codec.NewSingle(v))
		if err != nil {
			t.Fatal(err)
		}
		if err := db.Upsert(context.Background(), store.Record{UserID: id, Blob: blob, Count: 1, Dim: len(v)}); err != nil {
			t.Fatal(err)
		}
	}
}

func userIDs(t *testing.T, path string) []string {
	t.Helper()
	db, err := store.NewBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	recs, err := db.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.UserID)
	}
	return ids
}

// run executes the root command and always releases the store, even
// when the command failed and cobra skipped the post-run hook.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.ExecuteContext(context.Background())
	if DB != nil {
		DB.Close()
		DB = nil
	}
	return out.String(), err
}

func writeJPEG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32)), nil); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "probe.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyCommand(t *testing.T) {
	path, c := setupCLI(t, []float32{1, 0, 0, 0})
	seed(t, path, c, map[string][]float32{userA: {1, 0, 0, 0}})
	img := writeJPEG(t)

	if _, err := run(t, "", "verify", "--user", userA, "--live", img); err != nil {
		t.Fatalf("verify: %v", err)
	}

	_, err := run(t, "", "verify", "--user", userB, "--live", img)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown user: want ErrNotFound, got %v", err)
	}

	if _, err := run(t, "", "verify", "--user", "nope", "--live", img); err == nil {
		t.Error("invalid UUID must fail")
	}
}

func TestIdentifyCommand(t *testing.T) {
	path, c := setupCLI(t, []float32{0, 1, 0, 0})
	seed(t, path, c, map[string][]float32{userA: {1, 0, 0, 0}, userB: {0, 1, 0, 0}})

	if _, err := run(t, "", "identify", writeJPEG(t)); err != nil {
		t.Fatalf("identify: %v", err)
	}
}

func TestDeleteCommand(t *testing.T) {
	path, c := setupCLI(t, []float32{1, 0})
	seed(t, path, c, map[string][]float32{userA: {1, 0}, userB: {0, 1}})

	if _, err := run(t, "", "delete", strings.ToUpper(userA)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := userIDs(t, path); len(got) != 1 || got[0] != userB {
		t.Errorf("remaining users = %v", got)
	}

	if _, err := run(t, "", "delete", userA); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestResetCommand(t *testing.T) {
	path, c := setupCLI(t, []float32{1, 0})
	seed(t, path, c, map[string][]float32{userA: {1, 0}})

	out, err := run(t, "n\n", "reset")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "Aborted") || len(userIDs(t, path)) != 1 {
		t.Fatalf("declined reset must keep data, output %q", out)
	}

	if _, err := run(t, "y\n", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := userIDs(t, path); len(got) != 0 {
		t.Errorf("users after reset = %v", got)
	}
}

func TestMissingSecretKey(t *testing.T) {
	setupCLI(t, []float32{1})
	t.Setenv("EMBEDDING_SECRET_KEY", "")

	if _, err := run(t, "", "list"); err == nil {
		t.Fatal("a missing secret key must be a startup error")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "sure?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
