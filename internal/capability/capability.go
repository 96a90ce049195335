// Package capability declares the engines behind the consent-gated features.
// Callers must pass the permission gate before invoking any of them.
package capability

import (
	"context"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
)

type ReplyRequest struct {
	UserID   string             `json:"-"`
	Platform providers.Provider `json:"platform"`
	Message  string             `json:"message"`
	Context  []string           `json:"context,omitempty"`
}

// Composer drafts a reply to an inbound fan message.
type Composer interface {
	ComposeReply(ctx context.Context, req ReplyRequest) (string, error)
}

type SummarizeRequest struct {
	UserID   string   `json:"-"`
	Messages []string `json:"messages"`
}

// Summarizer condenses a batch of inbox messages.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
}

type SyncRequest struct {
	UserID      string
	Platform    providers.Provider
	AccessToken string
}

// InboxSyncer pulls new messages from a connected platform and reports how
// many were stored.
type InboxSyncer interface {
	SyncInbox(ctx context.Context, req SyncRequest) (int, error)
}

// NotConfigured satisfies every engine interface and fails with a 501.
type NotConfigured struct{}

func (NotConfigured) ComposeReply(context.Context, ReplyRequest) (string, error) {
	return "", apperr.NotConfigured("AI reply composer")
}

func (NotConfigured) Summarize(context.Context, SummarizeRequest) (string, error) {
	return "", apperr.NotConfigured("AI summarization")
}

func (NotConfigured) SyncInbox(context.Context, SyncRequest) (int, error) {
	return 0, apperr.NotConfigured("Inbox sync")
}
