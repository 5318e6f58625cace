package datalab

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("datalab: not found")

	// ErrSchemaMissing is returned when a datalab table is absent from the
	// connected database.
	ErrSchemaMissing = errors.New("datalab: schema missing")

	// ErrInvalidInput is returned for unknown splits or statuses.
	ErrInvalidInput = errors.New("datalab: invalid input")
)

type Split string

type ConversationStatus string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

const (
	StatusDraft    ConversationStatus = "draft"
	StatusPending  ConversationStatus = "pending"
	StatusApproved ConversationStatus = "approved"
	StatusRejected ConversationStatus = "rejected"
	StatusArchived ConversationStatus = "archived"
)

func NormalizeSplit(s string) (Split, bool) {
	split := Split(strings.TrimSpace(strings.ToLower(s)))
	switch split {
	case SplitTrain, SplitValid, SplitTest:
		return split, true
	default:
		return "", false
	}
}

func NormalizeStatus(s string) (ConversationStatus, bool) {
	st := ConversationStatus(strings.TrimSpace(strings.ToLower(s)))
	switch st {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusArchived:
		return st, true
	default:
		return "", false
	}
}

// conversation is one conversations row joined with its dataset name.
type conversation struct {
	ID      int64
	Dataset string
	Split   Split
	Status  ConversationStatus
	Tags    []string
	Source  string
	Notes   string
	Labels  json.RawMessage
}

// message is one conversation_messages row.
type message struct {
	Role    string
	Name    string
	Content string
	Meta    json.RawMessage
}
