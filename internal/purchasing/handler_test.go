package purchasing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func newTestRouter(f *fixture, withActor bool) http.Handler {
	r := chi.NewRouter()
	if withActor {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), f.actor)))
			})
		})
	}
	NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandlerCreateAcceptsLegacyNames(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, true)

	rec, body := doJSON(t, h, http.MethodPost, "/purchases/", `{
		"vendor": 7,
		"invoiceNumber": "INV-77",
		"items": [{"product": 11, "productName": "Rice 25kg", "quantity": 10, "price": "100"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "INV-77", body["invoiceNo"])
	require.Equal(t, "INV-77", body["invoiceNumber"])
	require.Equal(t, "PUR202610170001", body["purchaseId"])

	items := body["items"].([]any)
	line := items[0].(map[string]any)
	require.EqualValues(t, 11, line["item"])
	require.EqualValues(t, 11, line["product"])
	require.Equal(t, "Rice 25kg", line["itemName"])
	require.Equal(t, "Rice 25kg", line["productName"])

	stored := f.stored(t, int64(body["id"].(float64)))
	require.Equal(t, "INV-77", stored.InvoiceNo)
}

func TestHandlerRejectsConflictingAliases(t *testing.T) {
	f := newFixture(t)
	rec, body := doJSON(t, newTestRouter(f, true), http.MethodPost, "/purchases/", `{
		"vendor": 7, "invoiceNo": "A", "invoiceNumber": "B",
		"items": [{"item": 11, "quantity": 1, "price": 1}]
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, body["detail"], "invoiceNo and invoiceNumber disagree")
}

func TestHandlerValidationProblem(t *testing.T) {
	f := newFixture(t)
	rec, body := doJSON(t, newTestRouter(f, true), http.MethodPost, "/purchases/", `{"vendor": 7, "items": [{"item": 11, "quantity": 0}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Equal(t, "Validation Failed", body["title"])
}

func TestHandlerRequiresActor(t *testing.T) {
	f := newFixture(t)
	rec, _ := doJSON(t, newTestRouter(f, false), http.MethodGet, "/purchases/1", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerStageFlow(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, true)
	p := f.create(t)
	base := fmt.Sprintf("/purchases/%d", p.ID)

	rec, body := doJSON(t, h, http.MethodPost, base+"/complete-pi", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Precondition Failed", body["title"])
	details := body["details"].(map[string]any)
	require.Equal(t, "po", details["requires"])

	rec, _ = doJSON(t, h, http.MethodPost, base+"/complete-po", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, base+"/complete-pi", fmt.Sprintf(`{"items":[{"lineId":%q,"piQty":6}]}`, p.Lines[0].ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := body["items"].([]any)[0].(map[string]any)
	require.EqualValues(t, 6, line["invoicedOrderedQty"])

	rec, _ = doJSON(t, h, http.MethodPost, base+"/complete-invoice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, base+"/complete-stock-entry",
		fmt.Sprintf(`{"items":[{"lineId":%q,"receivedQty":6,"racks":[{"rack":300,"quantity":6}]}]}`, p.Lines[0].ID))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	details = body["details"].(map[string]any)
	require.EqualValues(t, 3, details["available"])
	require.EqualValues(t, 6, details["requested"])

	rec, body = doJSON(t, h, http.MethodPost, base+"/complete-workflow", `{"force": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []any{"fulfillment", "stockEntry", "rackAssignment"}, body["completedStages"])
	line = body["items"].([]any)[0].(map[string]any)
	require.EqualValues(t, 6, line["invoicedQty"])
	require.EqualValues(t, 10, line["receivedQty"])
	require.EqualValues(t, 10, f.md.items[11].Stock)
}
