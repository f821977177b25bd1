package view

import (
	"fmt"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/presence"
	cmp "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	g "maragu.dev/gomponents/html"
)

// Element IDs the websocket fragments swap into.
const (
	TypingIndicatorID = "typing-indicator"
	OnlineUsersID     = "online-users"
	ChatStatusID      = "chat-status"
	ChatMessagesID    = "chat-messages"
	ComposeFormID     = "compose-form"
	ComposeInputID    = "compose-input"
)

// HeaderStatus is the line under the room name.
func HeaderStatus(typingText string, online int) string {
	switch {
	case typingText != "":
		return typingText + "..."
	case online > 0:
		return fmt.Sprintf("%d online", online)
	default:
		return "offline"
	}
}

func oob(enabled bool) cmp.Node {
	return cmp.If(enabled, hx.SwapOOB("true"))
}

// TypingIndicator renders the typing line. With swap set it replaces the
// element already on the page.
func TypingIndicator(text string, swap bool) cmp.Node {
	return g.Div(
		g.ID(TypingIndicatorID),
		oob(swap),
		g.Class("h-5 px-4 text-xs italic text-gray-500"),
		cmp.If(text != "", cmp.Text(text+"...")),
	)
}

// ChatStatus renders the header status line.
func ChatStatus(typingText string, online int, swap bool) cmp.Node {
	return g.P(
		g.ID(ChatStatusID),
		oob(swap),
		g.Class("text-xs text-green-100"),
		cmp.Text(HeaderStatus(typingText, online)),
	)
}

// OnlineUsers renders the roster sidebar.
func OnlineUsers(users []presence.Record, swap bool) cmp.Node {
	return g.Ul(
		g.ID(OnlineUsersID),
		oob(swap),
		g.Class("space-y-2"),
		cmp.Map(users, func(u presence.Record) cmp.Node {
			return g.Li(
				g.Class("flex items-center gap-2 text-sm"),
				g.Img(g.Src(u.Avatar()), g.Alt(u.Name()), g.Class("w-6 h-6 rounded-full")),
				g.Span(cmp.Text(u.Name())),
			)
		}),
	)
}

// MessageItem renders one chat bubble.
func MessageItem(item chat.Item) cmp.Node {
	row, bubble, stamp := "flex mb-4 justify-start", "bg-white text-gray-800 border border-gray-200", "text-left"
	if item.Mine {
		row, bubble, stamp = "flex mb-4 justify-end", "bg-green-500 text-white", "text-right"
	}
	sent := "now"
	if !item.CreatedAt.IsZero() {
		sent = item.CreatedAt.Local().Format("15:04")
	}

	return g.Div(
		g.ID("message-"+item.ID),
		g.Class(row),
		g.Img(g.Src(item.Avatar()), g.Alt("user avatar"), g.Class("w-8 h-8 rounded-full mx-2")),
		g.Div(
			g.Class("flex flex-col max-w-md"),
			cmp.If(!item.Mine, g.P(g.Class("text-xs text-gray-500 mb-1 px-2"), cmp.Text(item.Name()))),
			g.Div(g.Class("px-4 py-2 rounded-lg break-words "+bubble), g.P(g.Class("text-sm"), cmp.Text(item.Text))),
			g.P(g.Class("text-xs text-gray-400 mt-1 px-2 "+stamp), cmp.Text(sent)),
		),
	)
}

// MessageList renders the whole feed. With swap set it replaces the list
// on the page.
func MessageList(items []chat.Item, swap bool) cmp.Node {
	return g.Div(
		g.ID(ChatMessagesID),
		oob(swap),
		g.Class("flex-1 overflow-y-auto p-4"),
		cmp.Map(items, MessageItem),
	)
}

// AppendMessages adds items to the end of the list already on the page.
func AppendMessages(items []chat.Item) cmp.Node {
	return g.Div(
		hx.SwapOOB("beforeend:#"+ChatMessagesID),
		cmp.Map(items, MessageItem),
	)
}

// ChatPage is the body of the chat room. The page connects to /ws and
// sends the compose box on every input and on submit.
func ChatPage(user identity.User, items []chat.Item, online []presence.Record, typingText string) cmp.Node {
	return g.Div(
		hx.Ext("ws"),
		cmp.Attr("ws-connect", "/ws"),
		g.Class("max-w-4xl mx-auto h-screen flex"),
		g.Aside(
			g.Class("w-56 p-4 bg-white border-r"),
			g.H2(g.Class("font-semibold mb-3"), cmp.Text("Online")),
			OnlineUsers(online, false),
		),
		g.Main(
			g.Class("flex-1 flex flex-col bg-gray-50"),
			g.Header(
				g.Class("flex items-center justify-between px-4 py-3 bg-green-600 text-white"),
				g.Div(
					g.H1(g.Class("font-semibold"), cmp.Text("Group Chat")),
					ChatStatus(typingText, len(online), false),
				),
				g.Form(
					g.Method("post"), g.Action("/leave"),
					g.Span(g.Class("text-sm mr-3"), cmp.Text(user.Name())),
					g.Button(g.Type("submit"), g.Class("text-sm underline"), cmp.Text("Leave")),
				),
			),
			MessageList(items, false),
			TypingIndicator(typingText, false),
			g.Form(
				g.ID(ComposeFormID),
				cmp.Attr("ws-send", ""),
				cmp.Attr("hx-on::ws-after-send", "if (event.detail.elt === this) this.reset()"),
				g.Class("flex gap-2 p-4 border-t"),
				g.Input(
					g.ID(ComposeInputID),
					g.Name("text"),
					g.Type("text"),
					g.AutoComplete("off"),
					cmp.Attr("maxlength", fmt.Sprint(chat.MaxMessageLength)),
					g.Placeholder("Type a message"),
					cmp.Attr("ws-send", ""),
					hx.Trigger("input changed"),
					g.Class("flex-1 border rounded px-3 py-2"),
				),
				g.Button(g.Type("submit"), g.Class("px-4 py-2 rounded bg-green-600 text-white"), cmp.Text("Send")),
			),
		),
	)
}

// JoinPage asks for a display name and an optional avatar URL.
func JoinPage(name, avatar string) cmp.Node {
	return g.Div(
		g.Class("max-w-md mx-auto mt-24 bg-white shadow rounded-xl p-8"),
		g.H1(g.Class("text-2xl font-bold mb-6"), cmp.Text("Join the chat")),
		g.Form(
			g.Method("post"), g.Action("/join"),
			g.Class("space-y-4"),
			g.Label(g.For("name"), g.Class("block text-sm font-medium"), cmp.Text("Display name")),
			g.Input(g.ID("name"), g.Name("name"), g.Type("text"), g.Value(name), g.Required(), g.Class("w-full border rounded px-3 py-2")),
			g.Label(g.For("avatar"), g.Class("block text-sm font-medium"), cmp.Text("Avatar URL (optional)")),
			g.Input(g.ID("avatar"), g.Name("avatar"), g.Type("url"), g.Value(avatar), g.Class("w-full border rounded px-3 py-2")),
			g.Button(g.Type("submit"), g.Class("w-full py-2 rounded bg-green-600 text-white"), cmp.Text("Join")),
		),
	)
}
