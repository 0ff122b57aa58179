// Command framegen produces synthetic classification results to the
// classifications topic, for exercising the ingest pipeline without a live
// classifier. Each simulated user drifts between behavior phases so alerts
// fire at a realistic, throttle-exercising rate.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"proctor/internal/config"
	"proctor/internal/events"
	"proctor/internal/kafka"
)

// phase is one behavior regime a simulated user can be in.
type phase struct {
	labels   []string
	severity events.Severity
	weight   int
}

var phases = []phase{
	{[]string{events.LabelActive}, events.SeverityLow, 50},
	{[]string{events.LabelLookingAway}, events.SeverityMedium, 15},
	{[]string{events.LabelAbsent}, events.SeverityHigh, 8},
	{[]string{events.LabelDrowsy, events.LabelEyesNotVisible}, events.SeverityMedium, 10},
	{[]string{events.LabelHeadTilted}, events.SeverityMedium, 7},
	{[]string{events.LabelNotCentered}, events.SeverityLow, 6},
	{[]string{events.LabelDarkEnvironment}, events.SeverityMedium, 4},
}

func pickPhase(r *rand.Rand) phase {
	total := 0
	for _, p := range phases {
		total += p.weight
	}
	n := r.Intn(total)
	for _, p := range phases {
		if n < p.weight {
			return p
		}
		n -= p.weight
	}
	return phases[0]
}

// user is one simulated participant. Phases are sticky for a few frames so
// the consistency window has something to find.
type user struct {
	id       string
	username string
	current  phase
	left     int
}

func (u *user) nextFrame(r *rand.Rand, channelID string) events.ClassificationResult {
	if u.left <= 0 {
		u.current = pickPhase(r)
		u.left = 3 + r.Intn(8)
	}
	u.left--

	return events.ClassificationResult{
		UserID:    u.id,
		Username:  u.username,
		ChannelID: channelID,
		Timestamp: time.Now().UTC(),
		Labels:    append([]string(nil), u.current.labels...),
		Severity:  u.current.severity,
	}
}

func main() {
	brokers := flag.String("kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka brokers")
	topic := flag.String("topic", config.GetEnvOrDefault("CLASSIFICATIONS_TOPIC", "behavior.classifications"), "Classifications topic")
	channelID := flag.String("channel", "loadtest", "Channel ID to generate frames for")
	userCount := flag.Int("users", 10, "Number of simulated users")
	interval := flag.Duration("interval", 2*time.Second, "Delay between frame rounds")
	flag.Parse()

	if err := kafka.ValidateProducerParams(*brokers, *topic); err != nil {
		log.Fatalf("Invalid parameters: %v", err)
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(kafka.ParseBrokers(*brokers)...),
		Topic:        *topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: kafka.WriteTimeout,
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	users := make([]*user, *userCount)
	for i := range users {
		users[i] = &user{
			id:       fmt.Sprintf("user-%03d", i+1),
			username: fmt.Sprintf("User %d", i+1),
		}
	}

	log.Printf("Generating frames for %d users on channel %q every %v...", *userCount, *channelID, *interval)

	framesSent := 0
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("\n=== Generation Complete ===")
			log.Printf("Frames sent: %d", framesSent)
			return
		case <-ticker.C:
		}

		for _, u := range users {
			result := u.nextFrame(r, *channelID)
			payload, err := json.Marshal(result)
			if err != nil {
				log.Printf("Warning: Failed to marshal frame for %s: %v", u.id, err)
				continue
			}

			err = writer.WriteMessages(ctx, kafkago.Message{
				Key:   []byte(*channelID + ":" + u.id),
				Value: payload,
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("Warning: Failed to write frame for %s: %v", u.id, err)
				continue
			}
			framesSent++
		}

		if framesSent%100 < *userCount {
			log.Printf("Progress: %d frames sent...", framesSent)
		}
	}
}
