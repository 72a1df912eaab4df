package measurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NotCoffee418/speedwire_emeter/pkg/config"
	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/solarinverter"
)

// Open starts the source selected by the configuration.
func Open(ctx context.Context, cfg *config.Config, layout Layout, logger *slog.Logger) (Source, error) {
	s := cfg.Source
	logger = logger.With("source", s.Mode)

	switch s.Mode {
	case config.ModeStatic:
		return NewStaticSource(emeter.DefaultScenario(layout.Firmware, layout.IncludeFrequency)), nil
	case config.ModeCSV:
		return opened(OpenCSV(layout, s.CSVPath))
	case config.ModeSerial:
		return opened(OpenSerialFeed(layout, s.SerialDevice, s.Baudrate))
	case config.ModeP1:
		return opened(OpenP1(ctx, layout, s.SerialDevice, s.Baudrate, logger))
	case config.ModeWebsocket:
		return OpenWebsocket(ctx, layout, s.WebsocketHost, logger), nil
	case config.ModeMQTT:
		return opened(OpenMQTTFeed(ctx, layout, MQTTOptions{
			Broker:   s.MQTTBroker,
			Port:     s.MQTTPort,
			Topic:    s.MQTTTopic,
			ClientID: s.MQTTClientID,
		}, logger))
	case config.ModeModbus:
		return NewInverterSource(layout, solarinverter.New(s.ModbusHost, s.ModbusPort, logger)), nil
	case config.ModeReplay:
		return opened(OpenReplay(ctx, layout, s.ReplayDBPath))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, s.Mode)
	}
}

// opened keeps a failed constructor's typed nil out of the Source interface.
func opened[S Source](s S, err error) (Source, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
