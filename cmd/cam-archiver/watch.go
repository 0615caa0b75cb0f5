// cmd/cam-archiver/watch.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sua-org/cam-archiver/internal/mqttclient"
)

var watchTopic string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Assina os tópicos de status no MQTT e imprime as mensagens",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.MQTTEnabled() {
			return fmt.Errorf("MQTT_HOST não configurado")
		}
		topic := watchTopic
		if topic == "" {
			// base/<camera>/status e base/collector/status
			topic = cfg.MQTTBaseTopic + "/+/status"
		}

		mc := cfg.MQTT
		mc.ClientID = mc.ClientID + "-watch"
		mqttCli, err := mqttclient.NewClient(mc)
		if err != nil {
			return fmt.Errorf("erro ao conectar no MQTT: %w", err)
		}
		defer mqttCli.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := mqttCli.Subscribe(topic, 1, handleStatusMessage); err != nil {
			return fmt.Errorf("erro ao assinar tópico %s: %w", topic, err)
		}
		log.Printf("[watch] subscribed to topic: %s", topic)

		<-ctx.Done()
		log.Println("[watch] sinal recebido, encerrando...")
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchTopic, "topic", "", "tópico MQTT (default <base>/+/status)")
}

func handleStatusMessage(topic string, payload []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		// "offline" do last will não é JSON
		log.Printf("[watch] %s: %s", topic, payload)
		return
	}
	log.Printf("[watch] %s:\n%s", topic, pretty.String())
}
