package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/reelscout/pkg/provider/recognition"
)

func TestParseDetections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []recognition.Detection
		wantErr bool
	}{
		{
			name:    "two actors",
			content: `{"actors":[{"name":"Keanu Reeves","confidence":0.93},{"name":" Carrie-Anne Moss ","confidence":0.7}]}`,
			want:    []recognition.Detection{{Name: "Keanu Reeves", Confidence: 0.93}, {Name: "Carrie-Anne Moss", Confidence: 0.7}},
		},
		{
			name:    "clamps and drops blanks",
			content: "```json\n{\"actors\":[{\"name\":\"\",\"confidence\":0.9},{\"name\":\"Laurence Fishburne\",\"confidence\":1.4}]}\n```",
			want:    []recognition.Detection{{Name: "Laurence Fishburne", Confidence: 1}},
		},
		{name: "empty list", content: `{"actors":[]}`, want: []recognition.Detection{}},
		{name: "garbage", content: "no idea", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDetections(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDetections: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d detections, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("detections[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if got := dataURL(png); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Errorf("png data URL = %q", got)
	}
	if got := dataURL([]byte("plain text")); !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("fallback data URL = %q", got)
	}
}

func TestRecognize_SendsImagePart(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4.1-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"actors\":[{\"name\":\"Keanu Reeves\",\"confidence\":0.9}]}"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	p, err := New("key", "", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Recognize(context.Background(), []byte{0xff, 0xd8, 0xff, 0xe0})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Keanu Reeves" {
		t.Errorf("Recognize = %+v", got)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	parts, _ := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected text + image parts, got %v", user["content"])
	}
	img, _ := parts[1].(map[string]any)
	if img["type"] != "image_url" {
		t.Errorf("second part type = %v, want image_url", img["type"])
	}
}

func TestRecognize_EmptyFrame(t *testing.T) {
	p, _ := New("key", "")
	if _, err := p.Recognize(context.Background(), nil); err != recognition.ErrEmptyFrame {
		t.Errorf("err = %v, want ErrEmptyFrame", err)
	}
}
