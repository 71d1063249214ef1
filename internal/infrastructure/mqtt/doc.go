// Package mqtt provides the MQTT transport between fleetwatch and the
// device fleet.
//
// This package manages:
//   - Connection to the broker with automatic reconnect and connect retry
//   - Subscription tracking, restored after every reconnect
//   - Publishing with QoS and payload size checks
//   - A retained service status topic with a Last Will for crash detection
//   - Panic recovery around message handlers
//
// Devices publish on {prefix}/{deviceId}/{kind} and receive commands on
// {prefix}/{deviceId}/commands; Topics builds and splits those names.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(logger)
//	if err := client.Connect(ctx); err != nil {
//	    logger.Warn("broker unavailable, retrying in background", "error", err)
//	}
//	defer client.Close()
//
//	err := client.Subscribe(client.Topics().AllDevices("status"), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
