package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	return c, rec
}

func TestJSONWrapsData(t *testing.T) {
	c, rec := newContext()
	JSON(c, http.StatusOK, gin.H{"rescored": 3}, map[string]interface{}{"provider_id": "dr-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["data"]["rescored"])
	assert.Equal(t, "dr-1", body["meta"]["provider_id"])
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, rec := newContext()
	Error(c, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move entry from completed to waiting"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INVALID_TRANSITION"`)
}

func TestErrorDefaultsToInternal(t *testing.T) {
	c, rec := newContext()
	Error(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INTERNAL_ERROR"`)
}

func TestAttachment(t *testing.T) {
	c, rec := newContext()
	Attachment(c, "queue.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, `attachment; filename="queue.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n", rec.Body.String())
}
