package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/devicerelay/internal/runtime/config"
	bus "github.com/drblury/devicerelay/transport"
)

func TestDefaultFactory_Build_Channel(t *testing.T) {
	cfg := config.Default()

	tr, err := DefaultFactory().Build(context.Background(), &cfg, watermill.NopLogger{})

	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.Equal(t, bus.ChannelCapabilities, tr.Capabilities)
	assert.NoError(t, tr.Publisher.Close())
}

func TestDefaultFactory_Build_NilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, watermill.NopLogger{})
	assert.ErrorContains(t, err, "config is required")
}

func TestDefaultFactory_Build_UnknownBus(t *testing.T) {
	cfg := config.Default()
	cfg.PubSubSystem = "kafka"

	_, err := DefaultFactory().Build(context.Background(), &cfg, watermill.NopLogger{})
	assert.ErrorIs(t, err, bus.ErrUnknownTransport)
}

func TestRegistryFactory_ReportsCapabilities(t *testing.T) {
	reg := bus.NewRegistry()
	caps := bus.Capabilities{Name: "fake", CrossInstance: true}
	reg.RegisterWithCapabilities("fake", func(ctx context.Context, cfg bus.Config, logger watermill.LoggerAdapter) (bus.Transport, error) {
		return bus.Transport{}, nil
	}, caps)

	cfg := config.Default()
	cfg.PubSubSystem = "FAKE"

	tr, err := RegistryFactory(reg).Build(context.Background(), &cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, caps, tr.Capabilities)
}

func TestFactoryFunc(t *testing.T) {
	want := errors.New("nope")
	f := FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, want
	})

	_, err := f.Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, want)
}
