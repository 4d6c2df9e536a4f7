package authapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteSessionNotActive(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSessionNotActive(rr)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != codeSessionNotActive || body.Error.Message != "session not active" {
		t.Fatalf("envelope = %+v", body.Error)
	}
}

func TestDecodeJSON(t *testing.T) {
	type loginBody struct {
		Provider string `json:"provider"`
	}

	cases := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "ok", body: `{"provider":"google"}`},
		{name: "empty", body: ``, wantErr: errEmptyBody},
		{name: "trailing", body: `{"provider":"google"}{}`, wantErr: errTrailingJSON},
		{name: "too large", body: `{"provider":"` + strings.Repeat("g", 128) + `"}`, wantErr: errBodyTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body))
			var dst loginBody
			err := decodeJSON(httptest.NewRecorder(), r, 64, &dst)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("decodeJSON: %v", err)
				}
				if dst.Provider != "google" {
					t.Fatalf("provider = %q", dst.Provider)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"unknown":1}`))
	var dst loginBody
	if err := decodeJSON(httptest.NewRecorder(), r, 64, &dst); err == nil {
		t.Fatalf("unknown fields must be rejected")
	}
}
