package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSender struct {
	name string
	err  error
	got  []domain.Alert
}

func (f *fakeSender) Send(_ context.Context, a domain.Alert) error {
	f.got = append(f.got, a)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"stop_loss", " milestone "}, discardLogger)

	require.NoError(t, n.Notify(context.Background(), domain.NotifyPositionOpened, domain.Alert{Title: "x"}))
	require.NoError(t, n.Notify(context.Background(), domain.NotifyMilestone, domain.Alert{Title: "y"}))
	require.NoError(t, n.NotifyAll(context.Background(), domain.Alert{Title: "z"}))

	require.Len(t, s.got, 2)
	assert.Equal(t, "y", s.got[0].Title)
	assert.Equal(t, "z", s.got[1].Title)
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger)

	err := n.Notify(context.Background(), domain.NotifyStopLoss, domain.Alert{Caption: "c"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.got, 1)
}

func TestTelegramSendMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT0K/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("T0K", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), domain.Alert{Title: "Stop <loss>", Caption: "SPY"}))

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Stop &lt;loss&gt;</b>\nSPY", got["text"])
}

func TestTelegramSendDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT0K/sendDocument", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))
		assert.Equal(t, "goal 3", r.FormValue("caption"))

		f, hdr, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "peak.json", hdr.Filename)
		assert.Equal(t, `{"a":1}`, string(data))
	}))
	defer srv.Close()

	s := NewTelegramSender("T0K", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), domain.Alert{
		Caption:    "goal 3",
		Attachment: &domain.Attachment{Name: "peak.json", ContentType: "application/json", Data: []byte(`{"a":1}`)},
	})
	require.NoError(t, err)
}

func TestTelegramErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("T0K", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), domain.Alert{Caption: "x"})
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestDiscordSend(t *testing.T) {
	var plain map[string]string
	var multipartPayload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&plain))
		} else {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			multipartPayload = r.FormValue("payload_json")
			_, hdr, err := r.FormFile("files[0]")
			require.NoError(t, err)
			assert.Equal(t, "entry.json", hdr.Filename)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), domain.Alert{Title: "T", Caption: "body"}))
	assert.Equal(t, "**T**\nbody", plain["content"])

	require.NoError(t, d.Send(context.Background(), domain.Alert{
		Caption:    "opened",
		Attachment: &domain.Attachment{Name: "entry.json", Data: []byte("{}")},
	}))
	assert.JSONEq(t, `{"content":"opened"}`, multipartPayload)
}
