package view

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cmp "maragu.dev/gomponents"
)

func render(t *testing.T, n cmp.Node) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, n.Render(&buf))
	return buf.String()
}

func TestHeaderStatus(t *testing.T) {
	assert.Equal(t, "Ada is typing...", HeaderStatus("Ada is typing", 3))
	assert.Equal(t, "3 online", HeaderStatus("", 3))
	assert.Equal(t, "offline", HeaderStatus("", 0))
}

func TestTypingIndicator(t *testing.T) {
	out := render(t, TypingIndicator("Ada and Bob are typing", true))
	assert.Contains(t, out, `id="typing-indicator"`)
	assert.Contains(t, out, `hx-swap-oob="true"`)
	assert.Contains(t, out, "Ada and Bob are typing...")

	out = render(t, TypingIndicator("", false))
	assert.NotContains(t, out, "hx-swap-oob")
	assert.NotContains(t, out, "typing...")
}

func TestOnlineUsers_UsesFallbacks(t *testing.T) {
	out := render(t, OnlineUsers([]presence.Record{{UserID: "u1", IsOnline: true}}, true))
	assert.Contains(t, out, identity.AnonymousName)
	assert.Contains(t, out, identity.FallbackAvatar("u1"))
}

func TestMessageItem(t *testing.T) {
	mine := chat.Item{Message: chat.Message{ID: "m1", UserID: "me", DisplayName: "Me", Text: "hi <b>"}, Mine: true}
	out := render(t, MessageItem(mine))
	assert.Contains(t, out, `id="message-m1"`)
	assert.Contains(t, out, "justify-end")
	assert.Contains(t, out, "hi &lt;b&gt;")
	assert.Contains(t, out, ">now<")
	assert.NotContains(t, out, ">Me<", "own messages hide the sender name")

	theirs := chat.Item{Message: chat.Message{ID: "m2", UserID: "u2", DisplayName: "Bob", Text: "yo", CreatedAt: time.Now()}}
	out = render(t, MessageItem(theirs))
	assert.Contains(t, out, "justify-start")
	assert.Contains(t, out, ">Bob<")
	assert.NotContains(t, out, ">now<")
}

func TestAppendMessages(t *testing.T) {
	out := render(t, AppendMessages([]chat.Item{{Message: chat.Message{ID: "m1", Text: "a"}}}))
	assert.Contains(t, out, `hx-swap-oob="beforeend:#chat-messages"`)
	assert.Equal(t, 1, strings.Count(out, `id="message-`))
}

func TestChatPage(t *testing.T) {
	me := identity.User{ID: "me", DisplayName: "Me"}
	online := []presence.Record{{UserID: "me", DisplayName: "Me", IsOnline: true}, {UserID: "u2", DisplayName: "Bob", IsOnline: true}}
	out := render(t, ChatPage(me, nil, online, ""))

	assert.Contains(t, out, `ws-connect="/ws"`)
	assert.Contains(t, out, `id="compose-input"`)
	assert.Contains(t, out, "2 online")
	assert.NotContains(t, out, "hx-swap-oob")
}

func TestBaseLayout(t *testing.T) {
	var buf bytes.Buffer
	page := Base("Chat", FlashData{Error: []string{"oops"}}, AdaptGomponentToTempl(JoinPage("", "")))
	require.NoError(t, page.Render(context.Background(), &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "<title>Chat - Parley</title>")
	assert.Contains(t, out, "oops")
	assert.Contains(t, out, `action="/join"`)
	assert.Contains(t, out, `href="/static/chat.css"`)
}
