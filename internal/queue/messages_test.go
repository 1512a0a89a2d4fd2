package queue

import (
	"errors"
	"testing"
)

func TestDecodeMessages(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		v       any
		wantErr bool
	}{
		{"delete", `{"doc_id":"a"}`, &QueueDeleteMsg{}, false},
		{"delete without id", `{}`, &QueueDeleteMsg{}, true},
		{"cancel", `{"doc_id":"a"}`, &QueueCancelMsg{}, false},
		{"query", `{"question":"q","mode":"kg_first","hops":2,"top_k":5}`, &QueueQueryMsg{}, false},
		{"query auto", `{"question":"q","mode":"auto"}`, &QueueQueryMsg{}, false},
		{"query unknown mode", `{"question":"q","mode":"graph"}`, &QueueQueryMsg{}, true},
		{"query too many hops", `{"question":"q","hops":9}`, &QueueQueryMsg{}, true},
		{"query negative top_k", `{"question":"q","top_k":-1}`, &QueueQueryMsg{}, true},
		{"query without question", `{"mode":"hybrid"}`, &QueueQueryMsg{}, true},
		{"malformed", `{"doc_id":`, &QueueDeleteMsg{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeMsg([]byte(tt.body), tt.v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeMsg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("error %v does not wrap ErrInvalidMessage", err)
			}
		})
	}
}

func TestDecodeExtractMsg(t *testing.T) {
	msg, err := decodeExtractMsg([]byte(`{"doc_id":"a","url":"https://example.com/post","resume":true,"connect_islands":true}`))
	if err != nil {
		t.Fatalf("decodeExtractMsg() error = %v", err)
	}
	if msg.DocID != "a" || msg.URL != "https://example.com/post" || !msg.Resume || !msg.ConnectIslands || msg.Stream {
		t.Fatalf("msg = %+v", msg)
	}

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'x'
	}
	for _, body := range []string{
		`{"doc_id":"a"}`,
		`{"doc_id":"` + string(long) + `","file_key":"a.txt"}`,
	} {
		if _, err := decodeExtractMsg([]byte(body)); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("decodeExtractMsg(%.40s) error = %v", body, err)
		}
	}
}
