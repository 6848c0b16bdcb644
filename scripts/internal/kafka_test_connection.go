package internal

import (
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/pubsub/kafka"
	"github.com/samber/lo"
)

// TestKafkaConnection dials the configured brokers and checks the user events topics exist
func TestKafkaConnection() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	saramaCfg := kafka.GetSaramaConfig(cfg)
	saramaCfg.Net.DialTimeout = 10 * time.Second
	saramaCfg.Net.ReadTimeout = 10 * time.Second
	saramaCfg.Net.WriteTimeout = 10 * time.Second

	client, err := sarama.NewClient(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("error creating client: %v", err)
	}
	defer client.Close()

	topics, err := client.Topics()
	if err != nil {
		return fmt.Errorf("error listing topics: %v", err)
	}

	for _, want := range []string{cfg.UserEvents.Topic, cfg.UserEvents.DLQTopic} {
		if !lo.Contains(topics, want) {
			fmt.Printf("topic %s is missing\n", want)
		}
	}

	fmt.Printf("Successfully connected! Available topics: %v\n", topics)
	return nil
}
