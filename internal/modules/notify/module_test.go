package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/notify"
)

func TestBuildChannel(t *testing.T) {
	log := zap.NewNop()
	cases := []struct {
		name    string
		cc      config.ChannelConfig
		wantErr bool
	}{
		{"console", config.ChannelConfig{ID: "c", Type: "console"}, false},
		{"telegram", config.ChannelConfig{ID: "tg", Type: "telegram", Telegram: notify.TelegramConfig{Token: "t", ChatID: 1}}, false},
		{"telegram no chat", config.ChannelConfig{ID: "tg", Type: "telegram", Telegram: notify.TelegramConfig{Token: "t"}}, true},
		{"pushover", config.ChannelConfig{ID: "po", Type: "pushover", Pushover: notify.PushoverConfig{AppToken: "a", UserKey: "u"}}, false},
		{"pushover no key", config.ChannelConfig{ID: "po", Type: "pushover"}, true},
		{"webhook", config.ChannelConfig{ID: "wh", Type: "webhook", Webhook: notify.WebhookConfig{URL: "http://x"}}, false},
		{"unknown", config.ChannelConfig{ID: "x", Type: "smoke"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch, err := BuildChannel(tc.cc, log, nil)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cc.ID, ch.ID())
		})
	}
}

func TestLaneConfig(t *testing.T) {
	lc, err := LaneConfig(config.ChannelConfig{
		ID:            "tg",
		MaxAttempts:   5,
		BaseBackoff:   2 * time.Second,
		RatePerMinute: 20,
		Kinds:         []string{"SIGNAL", "ERROR"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, lc.MaxAttempts)
	assert.Equal(t, 2*time.Second, lc.BaseBackoff)
	assert.Equal(t, 20, lc.RatePerMinute)
	assert.Equal(t, []models.AlertKind{models.AlertSignal, models.AlertError}, lc.Kinds)

	_, err = LaneConfig(config.ChannelConfig{ID: "tg", Kinds: []string{"NOPE"}})
	assert.Error(t, err)
}
