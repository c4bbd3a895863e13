package reports

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/pkg/response"
)

func newTestContext(t *testing.T, method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) response.Body {
	t.Helper()
	var body response.Body
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// Without S3 configured, every export endpoint must refuse with the
// exports_disabled code instead of reaching a nil storage client.
func TestCreateExportsDisabled(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, zap.NewNop())
	c, w := newTestContext(t, http.MethodPost, "/reports")
	c.Set(middleware.ContextUserID, uuid.New())

	h.Create(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
	if body := decodeBody(t, w); body.Code != "exports_disabled" {
		t.Fatalf("code: %q", body.Code)
	}
}

func TestDownloadURLExportsDisabled(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, zap.NewNop())
	id := uuid.NewString()
	c, w := newTestContext(t, http.MethodGet, "/reports/"+id+"/download-url")
	c.Set(middleware.ContextUserID, uuid.New())
	c.Params = gin.Params{{Key: "id", Value: id}}

	h.DownloadURL(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body.Code != "exports_disabled" || body.Success {
		t.Fatalf("body: %+v", body)
	}
}
