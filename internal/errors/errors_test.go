package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCodeOf_ThroughWrapping(t *testing.T) {
	base := SourceUnavailable(io.ErrUnexpectedEOF, "fetch window")
	wrapped := fmt.Errorf("run abc: %w", base)

	if got := CodeOf(wrapped); got != CodeSourceUnavailable {
		t.Errorf("CodeOf() = %s, want %s", got, CodeSourceUnavailable)
	}
	if !Is(wrapped, CodeSourceUnavailable) {
		t.Error("Is() should match wrapped code")
	}
	if CodeOf(io.EOF) != CodeInternal {
		t.Error("plain errors should classify as internal")
	}
	if Is(nil, CodeInternal) {
		t.Error("nil error should never match")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{SourceUnavailable(nil, "down"), true},
		{NarrativeUnavailable(nil, "timeout"), true},
		{SourceQuery(nil, "bad column"), false},
		{SnapshotWrite(nil, "disk full"), false},
		{Aggregation("negative"), false},
	}

	for _, tt := range tests {
		t.Run(string(CodeOf(tt.err)), func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	err := SnapshotWrite(io.ErrShortWrite, "persist snapshot")
	if err.Unwrap() != io.ErrShortWrite {
		t.Error("Unwrap() should return cause")
	}
	want := "SNAPSHOT_WRITE_ERROR: persist snapshot (caused by: short write)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"conflict", Conflict("run in progress"), http.StatusConflict, CodeConflict},
		{"source down", SourceUnavailable(nil, "down"), http.StatusServiceUnavailable, CodeSourceUnavailable},
		{"plain error", io.EOF, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, logger, tt.err, "req-1")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Success {
				t.Error("success should be false")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
			if resp.Error.RequestID != "req-1" {
				t.Errorf("request id = %q", resp.Error.RequestID)
			}
		})
	}
}
