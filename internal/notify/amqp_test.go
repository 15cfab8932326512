package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"housegen/internal/auth"
)

func setupRabbit(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping rabbitmq container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestAMQPNotifierPublishes(t *testing.T) {
	url := setupRabbit(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := NewAMQPNotifier(url, "", Links{FrontendURL: "https://app.example.com"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	userID := uuid.New()
	err = n.Notify(context.Background(), auth.Notification{
		Kind:   auth.NotifyEmailVerification,
		UserID: userID,
		Email:  "a@example.com",
		Token:  "verify-me",
	})
	require.NoError(t, err)

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	var msg amqp.Delivery
	require.Eventually(t, func() bool {
		d, ok, err := ch.Get(DefaultQueue, true)
		if err != nil || !ok {
			return false
		}
		msg = d
		return true
	}, 10*time.Second, 100*time.Millisecond)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, "email_verification", ev.Type)
	assert.Equal(t, userID.String(), ev.UserID)
	assert.Equal(t, "https://app.example.com/verify-email?token=verify-me", ev.Link)
}

func TestNewAMQPNotifierRequiresURL(t *testing.T) {
	_, err := NewAMQPNotifier("", "", Links{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
