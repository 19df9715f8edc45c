package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestCleanTextCutsOnRuneBoundary(t *testing.T) {
	got := CleanText("  café crème  ", 4)
	if got != "café" {
		t.Fatalf("expected %q, got %q", "café", got)
	}
	if got := CleanText("日本語のメモ", 3); got != "日本語" {
		t.Fatalf("expected three runes, got %q", got)
	}
}

func TestCleanTextDropsControlCharacters(t *testing.T) {
	got := CleanText("leave at\x00 door\nring\tbell\x07", 0)
	if got != "leave at door\nring\tbell" {
		t.Fatalf("unexpected text %q", got)
	}
	if CleanText(" \x01 ", 10) != "" {
		t.Fatal("expected blank text")
	}
}

type decodeTarget struct {
	Amount string `json:"amount" validate:"required,decimal"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":"1.234"}`))
	var dest decodeTarget
	err := DecodeJSONBody(req, &dest)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["amount"] != "must be a non-negative decimal amount" {
		t.Fatalf("unexpected details %v", typed.Details())
	}
}
