package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"relentless-tracks/common"
	rkafka "relentless-tracks/internal/kafka"
)

func main() {
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	topics := common.SplitCSV(common.GetEnv("KAFKA_TOPICS", ""))
	if len(topics) == 0 {
		t := rkafka.DefaultTopics()
		topics = []string{t.Downloads, t.DLQ, t.Edges}
	}
	timeout := common.ParseDuration(common.GetEnv("KAFKA_CHECK_TIMEOUT", "5s"), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to Kafka at %s: %v\n", broker, err)
		os.Exit(1)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read metadata: %v\n", err)
		os.Exit(1)
	}

	counts := partitionCounts(partitions)
	fmt.Printf("connected to Kafka at %s (%d partitions)\n", broker, len(partitions))
	missing := missingTopics(counts, topics)
	for _, topic := range topics {
		if n, ok := counts[topic]; ok {
			fmt.Printf("  %s: %d partitions\n", topic, n)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing topics: %v\n", missing)
		os.Exit(1)
	}
}

func partitionCounts(partitions []kafka.Partition) map[string]int {
	counts := make(map[string]int)
	for _, p := range partitions {
		counts[p.Topic]++
	}
	return counts
}

func missingTopics(counts map[string]int, want []string) []string {
	var missing []string
	for _, topic := range want {
		if counts[topic] == 0 {
			missing = append(missing, topic)
		}
	}
	sort.Strings(missing)
	return missing
}
