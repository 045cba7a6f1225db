// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/internal/logging"
	"github.com/Thermoquad/battmon/pkg/wire"
)

var (
	bridgeBroker   string
	bridgeClientID string
	bridgeUser     string
	bridgePrefix   string
	bridgeName     string
	bridgeInterval time.Duration
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Publish monitor readings to MQTT with Home Assistant discovery",
	Long: `Poll a running monitor and publish its state to an MQTT broker.

Topics (prefix "battmon", device "Battery"):
  battmon/battery/state          full status as JSON, every --interval
  battmon/battery/availability   "online" / "offline" (retained, last will)
  battmon/battery/set            configure payloads forwarded to the monitor

A set payload may be a full request ({"set":{"min_v":21}}) or just the
assignments ({"min_v":21,"capacity_h":12}).

Home Assistant discovery configs are published retained under
<discovery-prefix>/sensor/... on every (re)connect.

The broker password is read from BATTMON_MQTT_PASSWORD.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeBroker, "broker", "", "MQTT broker (host, host:port or tcp://host:port)")
	bridgeCmd.Flags().StringVar(&bridgeClientID, "client-id", "", "MQTT client id")
	bridgeCmd.Flags().StringVar(&bridgeUser, "mqtt-username", "", "MQTT username")
	bridgeCmd.Flags().StringVar(&bridgePrefix, "topic-prefix", "", "Topic prefix")
	bridgeCmd.Flags().StringVar(&bridgeName, "device-name", "", "Device name shown in Home Assistant")
	bridgeCmd.Flags().DurationVar(&bridgeInterval, "interval", 0, "Polling interval")
}

func applyBridgeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	m := &cfg.MQTT
	if flags.Changed("broker") {
		m.Broker = bridgeBroker
	}
	if flags.Changed("client-id") {
		m.ClientID = bridgeClientID
	}
	if flags.Changed("mqtt-username") {
		m.Username = bridgeUser
	}
	if flags.Changed("topic-prefix") {
		m.TopicPrefix = bridgePrefix
	}
	if flags.Changed("device-name") {
		m.DeviceName = bridgeName
	}
	if flags.Changed("interval") {
		m.Interval = bridgeInterval
	}
}

// brokerURL adds the tcp scheme and default port when missing
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, "1883")
	}
	return "tcp://" + broker
}

func runBridge(cmd *cobra.Command, args []string) error {
	applyBridgeFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m := cfg.MQTT
	if m.Broker == "" {
		return errors.New("no MQTT broker configured (--broker or BATTMON_MQTT_BROKER)")
	}
	log := logging.Component(logger, "bridge")

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()
	client := wire.NewClient(conn, wire.DefaultTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	firmware, _, err := client.Ping(ctx)
	if err != nil {
		log.Warn().Err(err).Str("conn", connInfo).Msg("monitor did not answer firmware request")
	}

	topics := newBridgeTopics(m)
	discovery, err := discoveryMessages(m, topics, firmware)
	if err != nil {
		return err
	}

	outgoing := make(chan MQTTMessage, 32)
	setRequests := make(chan []byte, 4)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.Broker))
	opts.SetClientID(m.ClientID)
	opts.SetUsername(m.Username)
	opts.SetPassword(m.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(topics.availability, payloadOffline, 1, true)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", m.Broker).Msg("connected to MQTT broker")

		// discovery first so entities exist before their state arrives
		for _, msg := range discovery {
			select {
			case outgoing <- msg:
			case <-ctx.Done():
				return
			}
		}
		select {
		case outgoing <- MQTTMessage{Topic: topics.availability, Payload: []byte(payloadOnline), QoS: 1, Retain: true}:
		case <-ctx.Done():
			return
		}

		token := c.Subscribe(topics.set, 1, func(_ mqtt.Client, msg mqtt.Message) {
			req, err := setRequestFromPayload(msg.Payload())
			if err != nil {
				log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring set payload")
				return
			}
			select {
			case setRequests <- req:
			case <-ctx.Done():
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topics.set).Msg("failed to subscribe")
		} else {
			log.Info().Str("topic", topics.set).Msg("subscribed")
		}
	})

	mc := mqtt.NewClient(opts)
	log.Info().Str("broker", brokerURL(m.Broker)).Str("conn", connInfo).Msg("connecting to MQTT broker")
	if token := mc.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		mqttSenderWorker(ctx, outgoing, mc, log)
	}()

	err = bridgeLoop(ctx, client, m.Interval, topics, outgoing, setRequests, log)

	// the will only fires on unclean disconnects
	if mc.IsConnected() {
		t := mc.Publish(topics.availability, 1, true, payloadOffline)
		t.WaitTimeout(time.Second)
	}
	stop()
	<-senderDone
	mc.Disconnect(250)
	log.Info().Msg("disconnected from MQTT broker")
	return err
}

// bridgeLoop polls the monitor and forwards configure-requests until ctx ends
func bridgeLoop(
	ctx context.Context,
	client *wire.Client,
	interval time.Duration,
	topics bridgeTopics,
	outgoing chan<- MQTTMessage,
	setRequests <-chan []byte,
	log zerolog.Logger,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	publish := func(reply *wire.Reply) {
		payload, err := statePayload(reply)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal state")
			return
		}
		select {
		case outgoing <- MQTTMessage{Topic: topics.state, Payload: payload}:
		case <-ctx.Done():
		}
	}

	poll := func() error {
		reply, err := client.Do(ctx, wire.NewStatusRequest())
		switch {
		case errors.Is(err, wire.ErrClosed):
			return err
		case err != nil:
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("status request failed")
			}
			return nil
		}
		if reply.Error != "" && reply.Error != wire.CodeSensorUnavailable {
			log.Warn().Str("error", string(reply.Error)).Msg("monitor reported error")
		}
		publish(reply)
		return nil
	}

	if err := poll(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}

		case req := <-setRequests:
			reply, err := client.Do(ctx, req)
			if err != nil {
				log.Warn().Err(err).Bytes("request", req).Msg("configure request failed")
				if errors.Is(err, wire.ErrClosed) {
					return err
				}
				continue
			}
			log.Info().Bytes("request", req).Bytes("reply", reply.Raw).Msg("configured")
			// publish fresh state so thresholds update without waiting a tick
			if err := poll(); err != nil {
				return err
			}
		}
	}
}

// mqttSenderWorker handles outgoing MQTT messages with queuing
func mqttSenderWorker(ctx context.Context, outgoing <-chan MQTTMessage, client mqtt.Client, log zerolog.Logger) {
	log.Debug().Msg("MQTT sender worker started")

	for {
		select {
		case msg := <-outgoing:
			token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
			token.Wait()
			if token.Error() != nil {
				log.Warn().Err(token.Error()).Str("topic", msg.Topic).Msg("failed to publish")
			}

		case <-ctx.Done():
			log.Debug().Msg("MQTT sender worker stopped")
			return
		}
	}
}
