package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BRKME/LP/internal/scanner"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunPublisher publishes every finished scan run as one JSON message keyed
// by run ID.
type RunPublisher struct {
	writer messageWriter
	Topic  string
}

func NewRunPublisher(brokers []string, topic string) *RunPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &RunPublisher{writer: writer, Topic: topic}
}

type runMessage struct {
	RunID      string                               `json:"run_id"`
	StartedAt  time.Time                            `json:"started_at"`
	FinishedAt time.Time                            `json:"finished_at"`
	Filter     filterMessage                        `json:"filter"`
	Networks   map[string][]scanner.PoolObservation `json:"networks"`
	Total      int                                  `json:"total"`
	Notified   bool                                 `json:"notified"`
}

type filterMessage struct {
	MinTVLUSD    float64  `json:"min_tvl_usd"`
	MinAPRPct    float64  `json:"min_apr_pct"`
	TopN         int      `json:"top_n"`
	TargetTokens []string `json:"target_tokens"`
}

func (p *RunPublisher) Publish(ctx context.Context, run *scanner.Run) error {
	targets := make([]string, 0, len(run.Filter.TargetTokens))
	for sym := range run.Filter.TargetTokens {
		targets = append(targets, sym)
	}
	sort.Strings(targets)

	networks := make(map[string][]scanner.PoolObservation, len(run.Results))
	for name, pools := range run.Results {
		stripped := make([]scanner.PoolObservation, len(pools))
		for i, pool := range pools {
			pool.FeeSeries = nil
			stripped[i] = pool
		}
		networks[name] = stripped
	}

	value, err := json.Marshal(runMessage{
		RunID:      run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Filter: filterMessage{
			MinTVLUSD:    run.Filter.MinTVLUSD,
			MinAPRPct:    run.Filter.MinAPRPct,
			TopN:         run.Filter.TopN,
			TargetTokens: targets,
		},
		Networks: networks,
		Total:    run.Results.Total(),
		Notified: run.Notified,
	})
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(run.ID),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *RunPublisher) Close() error {
	return p.writer.Close()
}
