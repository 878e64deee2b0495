package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/testutil"
	"github.com/tjfontaine/storefront-studio/internal/tokens"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Exchange_Success(t *testing.T) {
	var got ExchangeRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchange" {
			t.Errorf("path = %s, want /exchange", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"replyText": "Listo, cambié el color.",
			"templateUpdates": {"primaryColor": "#111"},
			"isFinalStep": false
		}`))
	})

	c := NewClient(srv.URL, WithAPIKey("test-key"), WithCounter(tokens.NewEstimator()))
	entries := []transcript.Entry{
		transcript.NewEntry(transcript.OriginAssistant, "¿Qué colores representan mejor tu marca?"),
		transcript.NewEntry(transcript.OriginUser, "Negro"),
	}

	res, err := c.Exchange(context.Background(), entries, storefront.Configuration{"name": "Mi Tienda"})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if res.ReplyText != "Listo, cambié el color." {
		t.Errorf("ReplyText = %q", res.ReplyText)
	}
	if !reflect.DeepEqual(res.Patch, storefront.Configuration{"primaryColor": "#111"}) {
		t.Errorf("Patch = %v", res.Patch)
	}
	if res.InterviewComplete || res.ShouldCreateResource {
		t.Errorf("unexpected flags: %+v", res)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "assistant" || got.Messages[1].Content != "Negro" {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if got.CurrentTemplate["name"] != "Mi Tienda" {
		t.Errorf("request currentTemplate = %v", got.CurrentTemplate)
	}
}

func TestClient_Exchange_CreationSignal(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"replyText": "",
			"templateUpdates": null,
			"shouldCreateShop": true,
			"shopData": {"name": "Mi Tienda", "subdomain": "mitienda"}
		}`))
	})

	c := NewClient(srv.URL, WithCounter(tokens.NewEstimator()))
	res, err := c.Exchange(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if !res.ShouldCreateResource {
		t.Error("ShouldCreateResource = false")
	}
	if res.ResourcePayload["subdomain"] != "mitienda" {
		t.Errorf("ResourcePayload = %v", res.ResourcePayload)
	}
	if res.Patch != nil {
		t.Errorf("Patch = %v, want nil", res.Patch)
	}
}

func TestClient_Exchange_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
	}{
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"type":"server","message":"upstream exploded"}}`,
			wantKind: ErrorKindStatus,
		},
		{
			name:     "invalid json",
			status:   http.StatusOK,
			body:     `{"replyText": `,
			wantKind: ErrorKindMalformed,
		},
		{
			name:     "missing reply text",
			status:   http.StatusOK,
			body:     `{"templateUpdates": {"primaryColor": "#111"}}`,
			wantKind: ErrorKindMalformed,
		},
		{
			name:     "unsupported template value",
			status:   http.StatusOK,
			body:     `{"replyText": "ok", "templateUpdates": {"theme": {"dark": true}}}`,
			wantKind: ErrorKindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			c := NewClient(srv.URL, WithCounter(tokens.NewEstimator()))
			_, err := c.Exchange(context.Background(), nil, nil)

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("Exchange() error = %v, want *Error", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", apiErr.Kind, tt.wantKind)
			}
			if tt.wantKind == ErrorKindMalformed && !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error does not wrap ErrMalformedResponse: %v", err)
			}
		})
	}
}

func TestClient_Exchange_StatusMessage(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"type":"server","message":"model unavailable"}}`))
	})

	c := NewClient(srv.URL, WithCounter(tokens.NewEstimator()))
	_, err := c.Exchange(context.Background(), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("Exchange() error = %v, want backend message", err)
	}
}

func TestClient_Exchange_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithCounter(tokens.NewEstimator()))
	_, err := c.Exchange(context.Background(), nil, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrorKindTransport {
		t.Errorf("Exchange() error = %v, want transport error", err)
	}
}

func TestClient_Exchange_TrimsTranscript(t *testing.T) {
	var got ExchangeRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"replyText": "ok"}`))
	})

	var entries []transcript.Entry
	for i := 0; i < 50; i++ {
		entries = append(entries, transcript.NewEntry(transcript.OriginUser, strings.Repeat("palabra ", 20)))
	}
	entries = append(entries, transcript.NewEntry(transcript.OriginUser, "último mensaje"))

	c := NewClient(srv.URL, WithCounter(tokens.NewEstimator()), WithMaxContextTokens(300))
	if _, err := c.Exchange(context.Background(), entries, nil); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if len(got.Messages) == 0 || len(got.Messages) >= len(entries) {
		t.Fatalf("sent %d messages, want a trimmed non-empty tail", len(got.Messages))
	}
	if last := got.Messages[len(got.Messages)-1]; last.Content != "último mensaje" {
		t.Errorf("last message = %q, want newest entry", last.Content)
	}
}

func TestClient_Exchange_Replay(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "exchange_store_name")
	defer cleanup()

	c := NewClient("https://assistant.example.test/v1",
		WithHTTPClient(testutil.VCRHTTPClient(r)),
		WithModel("gpt-4o-mini"),
	)

	entries := []transcript.Entry{
		transcript.NewEntry(transcript.OriginAssistant, "¡Hola! Soy tu asistente para crear tu tienda en línea. Vamos a configurarla juntos. ¿Cómo se llamará tu tienda?"),
		transcript.NewEntry(transcript.OriginUser, "Mi Tienda"),
	}
	res, err := c.Exchange(context.Background(), entries, storefront.Configuration{"name": "Mi Tienda"})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if res.Patch["primaryColor"] != "#FF4F41" {
		t.Errorf("Patch primaryColor = %v, want #FF4F41", res.Patch["primaryColor"])
	}
	fo, ok := res.Patch[storefront.FilterOptionsKey].(map[string]any)
	if !ok || !reflect.DeepEqual(fo[storefront.FilterCategories], []any{"Novedades"}) {
		t.Errorf("Patch filterOptions = %v", res.Patch[storefront.FilterOptionsKey])
	}
	if !strings.Contains(res.ReplyText, "Mi Tienda") {
		t.Errorf("ReplyText = %q", res.ReplyText)
	}
}
