package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyHonorsEventAllowList(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"proposal_resolved", "recombined"}, discardLogger())

	ctx := context.Background()
	require.NoError(n.Notify(ctx, "proposal_resolved", "Proposal resolved", "winner 0"))
	require.NoError(n.Notify(ctx, "swap", "Swap", "noise"))
	require.NoError(n.Notify(ctx, "recombined", "Market recombined", "escrow drained"))

	require.Equal([]string{"Proposal resolved", "Market recombined"}, sender.sent())
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"recombined"}, discardLogger())

	require.NoError(n.NotifyAll(context.Background(), "Arbitrage kill switch tripped", "shortfall over budget"))
	require.Equal([]string{"Arbitrage kill switch tripped"}, sender.sent())
}

func TestDispatchReportsEveryFailedChannel(t *testing.T) {
	require := require.New(t)

	okSender := &recordingSender{name: "discord"}
	badSender := &recordingSender{name: "telegram", err: errors.New("chat not found")}
	n := NewNotifier([]Sender{okSender, badSender}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "Settlement archived", "report uploaded")
	require.ErrorContains(err, "telegram")
	require.ErrorContains(err, "chat not found")

	// the healthy channel still delivered
	require.Equal([]string{"Settlement archived"}, okSender.sent())
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	require := require.New(t)

	var got map[string][]discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(s.Send(context.Background(), "Arbitrage kill switch tripped", "cumulative shortfall 1200"))

	require.Len(got["embeds"], 1)
	embed := got["embeds"][0]
	require.Equal("Arbitrage kill switch tripped", embed.Title)
	require.Equal("cumulative shortfall 1200", embed.Description)
	require.Equal(discordRed, embed.Color)
}

func TestDiscordSenderSurfacesWebhookErrors(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "Settlement archived", "ok")
	require.ErrorContains(err, "401")
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	require := require.New(t)

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/botsecret-token/sendMessage", r.URL.Path)
		require.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("secret-token", "chat-1")
	s.baseURL = srv.URL
	require.NoError(s.Send(context.Background(), "Market <fee_switch> settled", "escrow 1 & 2 drained"))

	require.Equal("chat-1", got["chat_id"])
	require.Equal("HTML", got["parse_mode"])
	require.Equal("<b>Market &lt;fee_switch&gt; settled</b>\nescrow 1 &amp; 2 drained", got["text"])
}
