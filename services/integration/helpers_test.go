package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func getFundsURL() string {
	if url := os.Getenv("FUNDS_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func getKafkaBrokers() []string {
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := normalizeBroker(strings.TrimSpace(part))
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{"localhost:9092"}
}

func normalizeBroker(value string) string {
	if value == "" {
		return value
	}
	if strings.Contains(value, "://") {
		parts := strings.SplitN(value, "://", 2)
		value = parts[1]
	}
	return strings.TrimSpace(value)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
}

func makeFundsRequest(method, path string, body any, token string) (*http.Response, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, getFundsURL()+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

func newProducer(t *testing.T) sarama.SyncProducer {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(getKafkaBrokers(), cfg)
	if err != nil {
		t.Fatalf("kafka producer: %v", err)
	}
	t.Cleanup(func() { _ = producer.Close() })
	return producer
}

func publish(t *testing.T, producer sarama.SyncProducer, topic, key string, event any) {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(raw),
	}); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

// startWatcher consumes topic from the newest offset and forwards decoded payloads.
func startWatcher(t *testing.T, topic string) <-chan map[string]any {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(getKafkaBrokers(), cfg)
	if err != nil {
		t.Fatalf("kafka consumer: %v", err)
	}
	partitions, err := consumer.Partitions(topic)
	if err != nil {
		t.Fatalf("partitions %s: %v", topic, err)
	}

	out := make(chan map[string]any, 16)
	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			t.Fatalf("consume partition: %v", err)
		}
		pcs = append(pcs, pc)
		go func(pc sarama.PartitionConsumer) {
			for msg := range pc.Messages() {
				var payload map[string]any
				if err := json.Unmarshal(msg.Value, &payload); err != nil {
					continue
				}
				out <- payload
			}
		}(pc)
	}

	t.Cleanup(func() {
		for _, pc := range pcs {
			_ = pc.Close()
		}
		_ = consumer.Close()
	})
	return out
}

func waitForEvent(t *testing.T, ch <-chan map[string]any, match func(map[string]any) bool) map[string]any {
	t.Helper()
	timeout := time.After(20 * time.Second)
	for {
		select {
		case payload := <-ch:
			if match(payload) {
				return payload
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

type walletBody struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

func waitForBalances(t *testing.T, userID, available, locked string) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	var last walletBody
	for time.Now().Before(deadline) {
		resp, err := makeFundsRequest(http.MethodGet, "/wallets/"+userID, nil, "")
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				_ = json.NewDecoder(resp.Body).Decode(&last)
			}
			resp.Body.Close()
			if last.Available == available && last.Locked == locked {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("wallet %s: expected available=%s locked=%s, last seen %+v", userID, available, locked, last)
}
