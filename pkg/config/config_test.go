package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired выставляет обязательные переменные Stripe.
func setRequired(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "payment-service", cfg.App.Name)
	assert.Equal(t, DefaultFrontendURL, cfg.Frontend.BaseURL())
	assert.Equal(t, NotifyTransportKafka, cfg.Notify.Transport)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 32, cfg.Dispatch.MaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.DrainTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 30, cfg.HTTP.ConfirmRateLimit)
	assert.Equal(t, time.Minute, cfg.HTTP.ConfirmRateWindow)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingStripeKeys(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_NotifyTransport(t *testing.T) {
	t.Run("sns без ARN", func(t *testing.T) {
		setRequired(t)
		t.Setenv("NOTIFY_TRANSPORT", "sns")
		t.Setenv("NOTIFY_SNS_TOPIC_ARN", "")

		_, err := Load()

		assert.Error(t, err)
	})

	t.Run("sns с ARN", func(t *testing.T) {
		setRequired(t)
		t.Setenv("NOTIFY_TRANSPORT", "sns")
		t.Setenv("NOTIFY_SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:123:orders")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, NotifyTransportSNS, cfg.Notify.Transport)
	})

	t.Run("неизвестный транспорт", func(t *testing.T) {
		setRequired(t)
		t.Setenv("NOTIFY_TRANSPORT", "pigeon")

		_, err := Load()

		assert.Error(t, err)
	})
}

func TestFrontendConfig_BaseURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"", DefaultFrontendURL},
		{"   ", DefaultFrontendURL},
		{"https://shop.example.com", "https://shop.example.com"},
		{"https://shop.example.com/", "https://shop.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, FrontendConfig{URL: tt.url}.BaseURL())
		})
	}
}
