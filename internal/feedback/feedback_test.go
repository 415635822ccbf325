package feedback_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hafiz/internal/feedback"
	"github.com/MrWong99/hafiz/pkg/provider/llm"
	"github.com/MrWong99/hafiz/pkg/provider/llm/mock"
)

const validReply = "```json\n" + `{
  "encouragement": "Masha'Allah, wonderful work!",
  "quiz": {"question": "Allah is...?", "options": ["One", "Many", "A storybook"], "answer": "a"}
}` + "\n```"

func TestGenerate_ParsesFencedReply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validReply}}
	g := feedback.New(p)

	fb := g.Generate(context.Background(), "Al-Ikhlas", "en")
	if fb.Fallback {
		t.Fatalf("Generate: unexpected fallback %q", fb.Encouragement)
	}
	if fb.Encouragement != "Masha'Allah, wonderful work!" {
		t.Errorf("Generate: encouragement = %q", fb.Encouragement)
	}
	if fb.Quiz == nil {
		t.Fatal("Generate: quiz is nil")
	}
	if fb.Quiz.Answer != "A" {
		t.Errorf("Generate: answer = %q, want A", fb.Quiz.Answer)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Generate: %d calls, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.7 {
		t.Errorf("Generate: temperature = %v, want 0.7", req.Temperature)
	}
	if !req.JSONOutput {
		t.Error("Generate: JSONOutput not requested")
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "Surah Al-Ikhlas") {
		t.Errorf("Generate: prompt does not name the surah: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "in English") {
		t.Errorf("Generate: prompt does not ask for English")
	}
}

func TestGenerate_PromptLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang string
		want string
	}{
		{"fr", "in French"},
		{"ar", "in Arabic"},
		{"de", "in English"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validReply}}
			feedback.New(p).Generate(context.Background(), "An-Nas", tt.lang)
			if got := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(got, tt.want) {
				t.Errorf("Generate(%s): prompt missing %q", tt.lang, tt.want)
			}
		})
	}
}

func TestGenerate_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    llm.Provider
		lang string
		want string
	}{
		{
			name: "no provider",
			lang: "en",
			want: "Great effort on memorizing! Keep up the wonderful work. (Unable to load quiz right now)",
		},
		{
			name: "provider error",
			p:    &mock.Provider{CompleteErr: errors.New("boom")},
			lang: "en",
			want: "Amazing job on your recitation! You're doing wonderfully! (Quiz is unavailable at the moment)",
		},
		{
			name: "nil response",
			p:    &mock.Provider{},
			lang: "en",
			want: "Amazing job on your recitation! You're doing wonderfully! (Quiz is unavailable at the moment)",
		},
		{
			name: "invalid json",
			p:    &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "sorry, no"}},
			lang: "en",
			want: "Amazing job on your recitation! You're doing wonderfully! (Quiz is unavailable at the moment)",
		},
		{
			name: "unknown language uses english",
			lang: "xx",
			want: "Great effort on memorizing! Keep up the wonderful work. (Unable to load quiz right now)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := feedback.New(tt.p).Generate(context.Background(), "Al-Asr", tt.lang)
			if !fb.Fallback {
				t.Errorf("Generate: Fallback = false")
			}
			if fb.Quiz != nil {
				t.Errorf("Generate: fallback carries a quiz")
			}
			if fb.Encouragement != tt.want {
				t.Errorf("Generate: encouragement = %q, want %q", fb.Encouragement, tt.want)
			}
		})
	}
}

func TestGenerate_LocalizedFallback(t *testing.T) {
	t.Parallel()

	en := feedback.New(nil).Generate(context.Background(), "Al-Asr", "en")
	fr := feedback.New(nil).Generate(context.Background(), "Al-Asr", "fr")
	ar := feedback.New(nil).Generate(context.Background(), "Al-Asr", "ar")
	if en.Encouragement == fr.Encouragement || en.Encouragement == ar.Encouragement || fr.Encouragement == ar.Encouragement {
		t.Errorf("Generate: fallbacks are not localized: %q %q %q", en.Encouragement, fr.Encouragement, ar.Encouragement)
	}
}

func TestGenerate_HonoursTimeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fb := feedback.New(p, feedback.WithTimeout(10*time.Millisecond)).Generate(context.Background(), "Al-Asr", "en")
	if !fb.Fallback {
		t.Fatal("Generate: expected fallback after timeout")
	}
}

func TestParseFeedback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantErr  bool
		wantQuiz bool
	}{
		{name: "plain", in: `{"encouragement":"Well done","quiz":{"question":"q","options":["a","b","c"],"answer":"B"}}`, wantQuiz: true},
		{name: "fenced", in: validReply, wantQuiz: true},
		{name: "bare fence", in: "```\n{\"encouragement\":\"ok\"}\n```"},
		{name: "no quiz", in: `{"encouragement":"Well done"}`},
		{name: "two options", in: `{"encouragement":"ok","quiz":{"question":"q","options":["a","b"],"answer":"A"}}`},
		{name: "bad letter", in: `{"encouragement":"ok","quiz":{"question":"q","options":["a","b","c"],"answer":"D"}}`},
		{name: "empty question", in: `{"encouragement":"ok","quiz":{"question":" ","options":["a","b","c"],"answer":"A"}}`},
		{name: "missing encouragement", in: `{"quiz":null}`, wantErr: true},
		{name: "not json", in: "hello", wantErr: true},
		{name: "markup only", in: `{"encouragement":"<script>x</script>"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb, err := feedback.ParseFeedback(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFeedback: err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if (fb.Quiz != nil) != tt.wantQuiz {
				t.Errorf("ParseFeedback: quiz = %+v, wantQuiz %v", fb.Quiz, tt.wantQuiz)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"{}":                    "{}",
		"```json\n{}\n```":      "{}",
		"```\n{}\n```":          "{}",
		"```{}```":              "{}",
		"  ```json {} ```  ":    "{}",
		"text ```json\n{}\n```": "text ```json\n{}\n```",
	}
	for in, want := range tests {
		if got := feedback.StripFences(in); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnswer(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  We wash to be clean for prayer.  "}}
	got := feedback.New(p).Answer(context.Background(), "Wudu", "Why do we wash?", "en")
	if got != "We wash to be clean for prayer." {
		t.Errorf("Answer: got %q", got)
	}
	req := p.Calls()[0].Req
	if req.Temperature != 0.5 {
		t.Errorf("Answer: temperature = %v, want 0.5", req.Temperature)
	}
	if req.JSONOutput {
		t.Error("Answer: JSONOutput set for a plain-text answer")
	}
	if !strings.Contains(req.Messages[0].Content, `"Why do we wash?"`) {
		t.Errorf("Answer: prompt does not quote the question")
	}
}

func TestAnswer_Fallbacks(t *testing.T) {
	t.Parallel()

	if got := feedback.New(nil).Answer(context.Background(), "Wudu", "q", "en"); !strings.HasPrefix(got, "I'm sorry, I can't answer right now.") {
		t.Errorf("Answer(nil provider) = %q", got)
	}
	p := &mock.Provider{CompleteErr: errors.New("down")}
	if got := feedback.New(p).Answer(context.Background(), "Wudu", "q", "en"); !strings.HasPrefix(got, "Oops!") {
		t.Errorf("Answer(error) = %q", got)
	}
	empty := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	if got := feedback.New(empty).Answer(context.Background(), "Wudu", "q", "en"); !strings.HasPrefix(got, "Oops!") {
		t.Errorf("Answer(empty) = %q", got)
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	if feedback.New(nil).Available() {
		t.Error("Available: nil provider reported available")
	}
	if !feedback.New(&mock.Provider{}).Available() {
		t.Error("Available: provider reported unavailable")
	}
}

func TestParseFeedback_StripsMarkup(t *testing.T) {
	t.Parallel()

	fb, err := feedback.ParseFeedback(`{"encouragement":"<b>Great</b> job & well done!","quiz":{"question":"<i>Who</i> is One?","options":["Allah","<u>Two</u>","Three"],"answer":"A"}}`)
	if err != nil {
		t.Fatalf("ParseFeedback: %v", err)
	}
	if fb.Encouragement != "Great job & well done!" {
		t.Errorf("ParseFeedback: encouragement = %q", fb.Encouragement)
	}
	if fb.Quiz == nil || fb.Quiz.Question != "Who is One?" || fb.Quiz.Options[1] != "Two" {
		t.Errorf("ParseFeedback: quiz = %+v", fb.Quiz)
	}
}

func TestGenerator_FeedbackThenFollowUp(t *testing.T) {
	t.Parallel()

	p := mock.NewReplying(validReply, "It means Allah is One.")
	g := feedback.New(p)

	if fb := g.Generate(context.Background(), "Al-Ikhlas", "en"); fb.Fallback || fb.Quiz == nil {
		t.Fatalf("Generate: %+v", fb)
	}
	if got := g.Answer(context.Background(), "Al-Ikhlas", "What does ahad mean?", "en"); got != "It means Allah is One." {
		t.Errorf("Answer: got %q", got)
	}
	req, ok := p.LastRequest()
	if !ok || req.JSONOutput {
		t.Errorf("LastRequest = %+v, %v; want the plain-text follow-up", req, ok)
	}
	if n := len(p.Calls()); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}
