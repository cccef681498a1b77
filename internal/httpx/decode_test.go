package httpx

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
)

type createPayload struct {
	OriginalURL string `json:"original_url"`
	CustomKey   string `json:"custom_key,omitempty"`
}

func TestDecodeJSON(t *testing.T) {
	t.Run("decodes a valid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links",
			strings.NewReader(`{"original_url":"https://example.com","custom_key":"promo"}`))

		got, err := DecodeJSON[createPayload](r)
		if err != nil {
			t.Fatalf("DecodeJSON() unexpected error: %v", err)
		}
		if got.OriginalURL != "https://example.com" {
			t.Errorf("OriginalURL = %q, want https://example.com", got.OriginalURL)
		}
		if got.CustomKey != "promo" {
			t.Errorf("CustomKey = %q, want promo", got.CustomKey)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links", strings.NewReader(""))

		_, err := DecodeJSON[createPayload](r)
		if err == nil {
			t.Fatal("DecodeJSON() expected error for empty body")
		}
		if !strings.Contains(err.Error(), "empty") {
			t.Errorf("error = %q, want mention of empty body", err)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links", strings.NewReader(`{"original_url":`))

		if _, err := DecodeJSON[createPayload](r); err == nil {
			t.Fatal("DecodeJSON() expected error for malformed JSON")
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links",
			strings.NewReader(`{"original_url":"https://example.com","surprise":true}`))

		if _, err := DecodeJSON[createPayload](r); err == nil {
			t.Fatal("DecodeJSON() expected error for unknown field")
		}
	})

	t.Run("rejects wrong field type", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links",
			strings.NewReader(`{"original_url":42}`))

		_, err := DecodeJSON[createPayload](r)
		if err == nil {
			t.Fatal("DecodeJSON() expected error for wrong type")
		}
		if !strings.Contains(err.Error(), "original_url") {
			t.Errorf("error = %q, want field name in message", err)
		}
	})

	t.Run("rejects multiple JSON objects", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/links",
			strings.NewReader(`{"original_url":"https://a.com"}{"original_url":"https://b.com"}`))

		if _, err := DecodeJSON[createPayload](r); err == nil {
			t.Fatal("DecodeJSON() expected error for multiple objects")
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString(`{"original_url":"`)
		buf.Write(bytes.Repeat([]byte("a"), MaxRequestBodySize+1))
		buf.WriteString(`"}`)

		r := httptest.NewRequest("POST", "/api/links", &buf)

		if _, err := DecodeJSON[createPayload](r); err == nil {
			t.Fatal("DecodeJSON() expected error for oversized body")
		}
	})
}
