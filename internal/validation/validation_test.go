package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()
	staff := int64(4)
	req := CreateOrderRequest{
		TableID: 5,
		StaffID: &staff,
		Items: []Item{
			{MenuItemID: 1, Quantity: 2},
			{MenuItemID: 1, Quantity: 1, SpecialRequest: "no onions"},
		},
		DiscountAmount: 2,
		TaxRate:        8.5,
	}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateOrderRequest_DuplicateLines(t *testing.T) {
	v := New()
	req := CreateOrderRequest{
		TableID: 5,
		Items:   []Item{{MenuItemID: 1, Quantity: 1}, {MenuItemID: 1, Quantity: 3}},
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for duplicate lines, got nil")
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()
	req := CreateOrderRequest{Items: []Item{}, TaxRate: 120}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestEnumTags(t *testing.T) {
	v := New()
	if err := v.Struct(TransitionRequest{Status: "served"}); err != nil {
		t.Fatalf("served should be valid: %v", err)
	}
	if err := v.Struct(TransitionRequest{Status: "eaten"}); err == nil {
		t.Fatal("unknown order status accepted")
	}
	if err := v.Struct(ItemStatusRequest{Status: "cancelled"}); err != nil {
		t.Fatalf("cancelled item status should be valid: %v", err)
	}
	if err := v.Struct(KitchenStatusRequest{Status: "acknowledged"}); err != nil {
		t.Fatalf("acknowledged should be valid: %v", err)
	}
	if err := v.Struct(KitchenStatusRequest{Status: "served"}); err == nil {
		t.Fatal("served is not a kitchen status")
	}
	if err := v.Struct(PriorityRequest{Priority: "urgent"}); err != nil {
		t.Fatalf("urgent should be valid: %v", err)
	}
	if err := v.Struct(PriorityRequest{Priority: "asap"}); err == nil {
		t.Fatal("unknown priority accepted")
	}
}

func TestCancelResponseRequest_ExplicitFalse(t *testing.T) {
	v := New()
	no := false
	if err := v.Struct(CancelResponseRequest{Accepted: &no}); err != nil {
		t.Fatalf("explicit false should be valid: %v", err)
	}
	if err := v.Struct(CancelResponseRequest{}); err == nil {
		t.Fatal("missing accepted should fail")
	}
}

func TestKitchenCommand_RequiresArguments(t *testing.T) {
	v := New()
	if err := v.Struct(KitchenCommand{Command: CommandComplete, KitchenOrderID: "ko-1"}); err != nil {
		t.Fatalf("complete needs no argument: %v", err)
	}
	if err := v.Struct(KitchenCommand{Command: CommandStatus, KitchenOrderID: "ko-1"}); err == nil {
		t.Fatal("status without a status accepted")
	}
	if err := v.Struct(KitchenCommand{Command: CommandStation, KitchenOrderID: "ko-1"}); err == nil {
		t.Fatal("station without station_id accepted")
	}
	if err := v.Struct(KitchenCommand{Command: "reboot", KitchenOrderID: "ko-1"}); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestBindAndValidate_WritesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders/1/transition", strings.NewReader(`{"status":"eaten"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req TransitionRequest
	if err := BindAndValidate(c, &req, v); err == nil {
		t.Fatal("expected an error")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "validation_failed" || body.Fields["TransitionRequest.Status"] == "" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
