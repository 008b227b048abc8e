package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/reelscout/pkg/types"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	b64 := base64.StdEncoding.EncodeToString
	tests := []struct {
		name     string
		raw      string
		max      int
		wantKind Kind
		wantData []byte
		wantErr  bool
	}{
		{name: "ping", raw: `{"type":"ping"}`, wantKind: KindPing},
		{name: "audio", raw: `{"type":"audio","data":{"audio":{"data":"` + b64([]byte{1, 2, 3}) + `"}}}`, wantKind: KindAudio, wantData: []byte{1, 2, 3}},
		{name: "frame", raw: `{"type":"frame","data":{"frame":{"data":"` + b64([]byte("jpeg")) + `"}}}`, wantKind: KindFrame, wantData: []byte("jpeg")},
		{name: "frame at limit", raw: `{"type":"frame","data":{"frame":{"data":"` + b64([]byte("12345")) + `"}}}`, max: 5, wantKind: KindFrame, wantData: []byte("12345")},
		{name: "frame over limit", raw: `{"type":"frame","data":{"frame":{"data":"` + b64([]byte("123456")) + `"}}}`, max: 5, wantErr: true},
		{name: "bad json", raw: `{"type":`, wantErr: true},
		{name: "missing type", raw: `{}`, wantErr: true},
		{name: "unknown type", raw: `{"type":"video"}`, wantErr: true},
		{name: "audio without payload", raw: `{"type":"audio"}`, wantErr: true},
		{name: "frame under audio key", raw: `{"type":"frame","data":{"audio":{"data":"AQ=="}}}`, wantErr: true},
		{name: "empty payload", raw: `{"type":"audio","data":{"audio":{"data":""}}}`, wantErr: true},
		{name: "invalid base64", raw: `{"type":"audio","data":{"audio":{"data":"!!!"}}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode([]byte(tt.raw), tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("Decode error = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if !bytes.Equal(got.Data, tt.wantData) {
				t.Errorf("Data = %v, want %v", got.Data, tt.wantData)
			}
		})
	}
}

func TestOutbound_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{name: "pong", msg: Pong(), want: `{"type":"pong"}`},
		{name: "failure", msg: Failure(msgNoMatch), want: `{"type":"result","success":false,"error":"no match found"}`},
		{name: "error ack", msg: ErrorAck("malformed message"), want: `{"type":"error","error":"malformed message"}`},
		{
			name: "identified",
			msg: Identified(types.DisplayPayload{
				ID: "movie:603", Title: "The Matrix", PosterURL: "https://img/603.jpg", Year: 1999,
				Genre: "Action | Science Fiction", Description: "A hacker learns the truth.",
				TMDBRating: 8.2, Duration: 136, IdentifiedAt: "2026-03-14T09:30:00Z",
			}),
			want: `{"type":"result","success":true,"data":{"id":"movie:603","title":"The Matrix",` +
				`"posterUrl":"https://img/603.jpg","year":1999,"genre":"Action | Science Fiction",` +
				`"description":"A hacker learns the truth.","tmdbRating":8.2,"duration":136,` +
				`"identifiedAt":"2026-03-14T09:30:00Z"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("got  %s\nwant %s", b, tt.want)
			}
		})
	}
}

func TestOutbound_IsResult(t *testing.T) {
	t.Parallel()

	if !Failure("x").IsResult() || !Identified(types.DisplayPayload{}).IsResult() {
		t.Error("results not reported as results")
	}
	if Pong().IsResult() || ErrorAck("x").IsResult() {
		t.Error("non-results reported as results")
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	got := strings.Join([]string{KindPing.String(), KindAudio.String(), KindFrame.String(), Kind(7).String()}, ",")
	if got != "ping,audio,frame,kind(7)" {
		t.Errorf("Kind strings = %q", got)
	}
}
