package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dugsi-admin/core"
	"dugsi-admin/students"
)

func setupRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f.svc, NewWebhookProcessor(f.billing, "", false), nil)
	h.RegisterRoutes(r.Group("/api/dugsi"))
	h.RegisterWebhook(r)
	return r
}

func call(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, core.ActionResult) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var res core.ActionResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	return w, res
}

func TestHandler_withdraw(t *testing.T) {
	f := newFixture(twoChildren()...).withSubscription("fam-1", "sub_1", 16000)
	r := setupRouter(f)

	w, res := call(r, http.MethodGet, "/api/dugsi/students/s-1/withdraw-preview", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)

	w, res = call(r, http.MethodPost, "/api/dugsi/students/s-1/withdraw", `{"reason":"moved","billingAdjustment":"auto_recalculate"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Amina Hassan withdrawn. Subscription updated to $80.00/month.", res.Message)
	assert.Empty(t, res.Warning)

	w, res = call(r, http.MethodPost, "/api/dugsi/students/s-1/re-enroll", `{"billingAdjustment":"keep_current"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Amina Hassan re-enrolled.", res.Message)
}

func TestHandler_withdrawWarning(t *testing.T) {
	f := newFixture(twoChildren()...)
	r := setupRouter(f)

	w, res := call(r, http.MethodPost, "/api/dugsi/students/s-2/withdraw", `{"reason":"moved","billingAdjustment":"cancel_subscription"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)
	assert.Equal(t, noSubscriptionWarning, res.Warning)
}

func TestHandler_errorStatuses(t *testing.T) {
	f := newFixture(child("s-1", "Amina Hassan", "fam-1", students.StatusEnrolled)).withSubscription("fam-1", "sub_1", 8000)
	r := setupRouter(f)

	w, res := call(r, http.MethodPost, "/api/dugsi/students/s-1/withdraw", `{"reason":"","billingAdjustment":"auto_recalculate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "reason is required", res.Error)

	w, res = call(r, http.MethodPost, "/api/dugsi/students/s-404/withdraw", `{"reason":"moved","billingAdjustment":"keep_current"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Student not found", res.Error)

	w, res = call(r, http.MethodPost, "/api/dugsi/bank-verification", `{"paymentIntentId":"pi_123","descriptorCode":"sm1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "descriptorCode", res.Fields[0].Field)

	f.gateway.verifyErr = &core.ProviderError{Code: "payment_intent_unexpected_state"}
	w, res = call(r, http.MethodPost, "/api/dugsi/bank-verification", `{"paymentIntentId":"pi_123","descriptorCode":"SM11AA"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "This bank account has already been verified.", res.Error)
}

func TestHandler_consolidateRequiresAcknowledgement(t *testing.T) {
	f := consolidationFixture()
	f.billing.link("fam-2", f.gateway.subs["sub_ext"])
	r := setupRouter(f)

	w, res := call(r, http.MethodPost, "/api/dugsi/consolidation", `{"subscriptionId":"sub_ext","familyId":"fam-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, acknowledgeMove, res.Error)

	w, res = call(r, http.MethodPost, "/api/dugsi/consolidation", `{"subscriptionId":"sub_ext","familyId":"fam-1","forceOverride":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Subscription linked to family", res.Message)
}

func TestHandler_webhook(t *testing.T) {
	f := newFixture()
	f.billing.link("fam-1", Subscription{ID: "sub_1", Status: "active", Amount: 16000})
	r := setupRouter(f)

	w, _ := call(r, http.MethodPost, "/webhooks/stripe", subscriptionUpdated)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "past_due", f.billing.records["sub_1"].Status)
}
