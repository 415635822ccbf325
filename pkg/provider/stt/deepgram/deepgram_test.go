package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "ar", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "endpointing", "1200", q.Get("endpointing"))
}

func TestBuildURL_Options(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("whisper-large"), WithLanguage("ar-SA"), WithSampleRate(48000), WithEndpointing(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(rawURL)

	assertEqual(t, "model", "whisper-large", q.Query().Get("model"))
	assertEqual(t, "language", "ar-SA", q.Query().Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Query().Get("sample_rate"))
	assertEqual(t, "endpointing", "2000", q.Query().Get("endpointing"))
}

func TestBuildURL_CfgLanguageWins(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithLanguage("ar"))
	rawURL, _ := p.buildURL(stt.StreamConfig{Language: "ar-EG"})
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "ar-EG", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	rawURL, err := p.buildURL(stt.StreamConfig{
		Keywords: stt.KeywordsFromWords([]string{"الله", "احد", "الله"}, 2),
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %v", kws)
	}
	if kws[0] != "الله:2" || kws[1] != "احد:2" {
		t.Errorf("unexpected keywords %v", kws)
	}
}

func TestBuildURL_Nova3Keyterms(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("nova-3-general"))
	rawURL, err := p.buildURL(stt.StreamConfig{
		Keywords: stt.KeywordsFromWords([]string{"الصمد", "كفوا"}, 2),
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(rawURL)
	if kws := q.Query()["keywords"]; len(kws) != 0 {
		t.Errorf("keywords = %v, want none for nova-3", kws)
	}
	terms := q.Query()["keyterm"]
	if len(terms) != 2 || terms[0] != "الصمد" || terms[1] != "كفوا" {
		t.Errorf("keyterm = %v", terms)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantFinal bool
		wantText  string
	}{
		{
			name:      "final",
			raw:       `{"type":"Results","is_final":true,"start":1.5,"duration":2,"channel":{"alternatives":[{"transcript":"قل هو الله احد","confidence":0.91,"words":[{"word":"قل","start":1.5,"end":1.8,"confidence":0.9}]}]}}`,
			wantOK:    true,
			wantFinal: true,
			wantText:  "قل هو الله احد",
		},
		{
			name:     "partial",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"قل هو","confidence":0.6}]}}`,
			wantOK:   true,
			wantText: "قل هو",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "empty transcript", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "no alternatives", raw: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tr.IsFinal != tt.wantFinal {
				t.Errorf("IsFinal = %v, want %v", tr.IsFinal, tt.wantFinal)
			}
			assertEqual(t, "text", tt.wantText, tr.Text)
		})
	}
}

func TestParseDeepgramResponse_Timing(t *testing.T) {
	t.Parallel()

	tr, ok := parseDeepgramResponse([]byte(`{"type":"Results","is_final":true,"start":1.5,"duration":2,"channel":{"alternatives":[{"transcript":"x","words":[{"word":"x","start":1.5,"end":1.75}]}]}}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if tr.Timestamp != 1500*time.Millisecond || tr.Duration != 2*time.Second {
		t.Errorf("timing = %v/%v", tr.Timestamp, tr.Duration)
	}
	if len(tr.Words) != 1 || tr.Words[0].End != 1750*time.Millisecond {
		t.Errorf("words = %+v", tr.Words)
	}
}

// TestStartStream_RoundTrip runs a session against a fake Deepgram server that
// answers every audio frame with a partial and closes after CloseStream.
func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"قل هو الله احد"}]}}`))
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
			_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"قل"}]}}`))
		}
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q", auth)
	}

	if err := sess.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case p := <-sess.Partials():
		assertEqual(t, "partial", "قل", p.Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for partial")
	}

	finals := sess.Finals()
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var last string
	for f := range finals {
		last = f.Text
	}
	assertEqual(t, "final", "قل هو الله احد", last)

	if err := sess.SendAudio([]byte{0}); !errors.Is(err, errClosed) {
		t.Errorf("SendAudio after Close = %v, want errClosed", err)
	}
	if err := sess.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("SetKeywords = %v, want ErrNotSupported", err)
	}
}

func TestSession_KeepAliveWhileIdle(t *testing.T) {
	t.Parallel()

	got := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				got <- string(msg)
				if strings.Contains(string(msg), "CloseStream") {
					c.Close(websocket.StatusNormalClosure, "")
					return
				}
			}
		}
	}))
	defer srv.Close()

	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithKeepAlive(20*time.Millisecond))
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	select {
	case msg := <-got:
		assertEqual(t, "idle frame", `{"type":"KeepAlive"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no KeepAlive sent while idle")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
