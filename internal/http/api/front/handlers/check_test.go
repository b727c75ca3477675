package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
)

func TestCheckHandlerAdmitsThenRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewLimiter(nil, ratelimit.WithClock(func() time.Time { return now }))

	r := gin.New()
	r.POST("/v0/check", NewCheckHandler(limiter).Check)

	send := func() *httptest.ResponseRecorder {
		body := `{"key":"svc-key","service":"marketplace_api","ip":"198.51.100.7"}`
		req := httptest.NewRequest(http.MethodPost, "/v0/check", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 3; i++ {
		w := send()
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for request %d, got %d", i+1, w.Code)
		}
		var resp checkResponse
		if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
			t.Fatalf("decode: %v", errDecode)
		}
		if !resp.Allowed || resp.Limit != 20 || resp.Remaining != 20-i {
			t.Fatalf("unexpected response for request %d: %+v", i+1, resp)
		}
	}

	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	var resp checkResponse
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.Gate != ratelimit.GateBurst || resp.RetryAfter == nil || *resp.RetryAfter != 10 {
		t.Fatalf("expected burst rejection with retry 10, got %+v", resp)
	}
}

func TestCheckHandlerInvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v0/check", NewCheckHandler(ratelimit.NewLimiter(nil)).Check)

	req := httptest.NewRequest(http.MethodPost, "/v0/check", strings.NewReader("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
