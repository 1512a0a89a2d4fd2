package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator"
)

// ErrInvalidMessage marks messages that can never be processed. They go to
// the dead-letter queue without retries.
var ErrInvalidMessage = errors.New("invalid queue message")

var validate = validator.New()

// QueueExtractMsg asks for a document to be turned into a graph. The text
// is read from FileKey, or fetched from URL when set. Islands are always
// connected unless Stream is set; ConnectIslands connects them there too.
type QueueExtractMsg struct {
	DocID          string `json:"doc_id" validate:"required,max=128"`
	FileKey        string `json:"file_key"`
	URL            string `json:"url" validate:"omitempty,url"`
	Filename       string `json:"filename"`
	Overwrite      bool   `json:"overwrite"`
	Resume         bool   `json:"resume"`
	Stream         bool   `json:"stream"`
	ConnectIslands bool   `json:"connect_islands"`
}

type QueueDeleteMsg struct {
	DocID string `json:"doc_id" validate:"required"`
}

type QueueCancelMsg struct {
	DocID string `json:"doc_id" validate:"required"`
}

type QueueQueryMsg struct {
	Question string `json:"question" validate:"required"`
	Mode     string `json:"mode" validate:"omitempty,oneof=auto kg_first rag_first hybrid kg_only rag_only"`
	Hops     int    `json:"hops" validate:"min=0,max=5"`
	TopK     int    `json:"top_k" validate:"min=0,max=50"`
	DocID    string `json:"doc_id"`
}

// decodeMsg unmarshals and validates body into v. Every failure wraps
// ErrInvalidMessage.
func decodeMsg(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func decodeExtractMsg(body []byte) (QueueExtractMsg, error) {
	var msg QueueExtractMsg
	if err := decodeMsg(body, &msg); err != nil {
		return msg, err
	}
	if msg.FileKey == "" && msg.URL == "" {
		return msg, fmt.Errorf("%w: file_key or url is required", ErrInvalidMessage)
	}
	return msg, nil
}
