package introspect_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/apexdata/pitwall/internal/connection"
	"github.com/apexdata/pitwall/internal/introspect"
)

func buildArchiveFile(t *testing.T) string {
	t.Helper()

	const (
		mainHeaderSize = 144
		subHeaderSize  = 32
		varHeaderSize  = 144
		frameSize      = 4
	)

	varHeaderOffset := mainHeaderSize + subHeaderSize
	sessionInfoOffset := varHeaderOffset + varHeaderSize
	sessionInfo := "WeekendInfo:\n  TrackName: test\n  TrackDisplayName: Test Raceway\nSessionInfo:\n  Sessions:\n    - SessionNum: 0\n"
	sessionInfoLen := len(sessionInfo) + 1
	frameDataStart := sessionInfoOffset + sessionInfoLen

	buf := make([]byte, frameDataStart+2*frameSize)
	putI32 := func(off int, v int32) { binary.LittleEndian.PutUint32(buf[off:], uint32(v)) }

	putI32(0, 2)
	putI32(4, 1)
	putI32(8, 60)
	putI32(12, 1)
	putI32(16, int32(sessionInfoLen))
	putI32(20, int32(sessionInfoOffset))
	putI32(24, 1)
	putI32(28, int32(varHeaderOffset))
	putI32(32, 1)
	putI32(36, frameSize)
	putI32(mainHeaderSize+28, 2)

	vh := varHeaderOffset
	putI32(vh+0, 2)
	putI32(vh+4, 0)
	putI32(vh+8, 1)
	copy(buf[vh+16:vh+16+32], "Tick")

	copy(buf[sessionInfoOffset:], sessionInfo)

	f, err := os.CreateTemp(t.TempDir(), "archive-*.ibt")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestHealthzAndSchemaUnauthenticated(t *testing.T) {
	path := buildArchiveFile(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := connection.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	router := introspect.NewRouter(introspect.NewServer(conn), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/schema", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/schema status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		FrameSize int `json:"frame_size"`
		Variables []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"variables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal schema response: %v", err)
	}
	if len(body.Variables) != 1 || body.Variables[0].Name != "Tick" {
		t.Errorf("variables = %+v, want a single Tick entry", body.Variables)
	}
}
