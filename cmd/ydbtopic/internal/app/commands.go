package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/writer"
)

func readCmd() *cli.Command {
	var consumer string
	var topic string
	return &cli.Command{
		Name:  "read",
		Usage: "read and print messages from a topic, committing as it goes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "consumer", Destination: &consumer, Required: true},
			&cli.StringFlag{Name: "topic", Destination: &topic, Required: true},
		},
		Action: func(c *cli.Context) error {
			d, stop, err := buildDriver(c)
			if err != nil {
				return err
			}
			defer stop()

			r := reader.New(reader.Config{
				Consumer: consumer,
				Topics:   []reader.TopicReadSettings{{Path: topic}},
				Codecs:   codec.NewRegistry(),
				Dial:     streamDialer(d),
			})

			ctx := c.Context
			go r.Run(ctx)

			for {
				batch, err := r.Read(ctx, reader.ReadOptions{WaitMs: 5000})
				if err != nil {
					return err
				}
				for _, m := range batch {
					fmt.Printf("offset=%d bytes=%d\n", m.Offset, len(m.Data))
				}
				if len(batch) > 0 {
					if _, err := r.Commit(batch); err != nil {
						return err
					}
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

func writeCmd() *cli.Command {
	var producerID string
	var topic string
	return &cli.Command{
		Name:  "write",
		Usage: "write each line of stdin as a message",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "producer-id", Destination: &producerID},
			&cli.StringFlag{Name: "topic", Destination: &topic, Required: true},
		},
		Action: func(c *cli.Context) error {
			d, stop, err := buildDriver(c)
			if err != nil {
				return err
			}
			defer stop()

			w := writer.New(writer.Config{
				Topic:      topic,
				ProducerID: producerID,
				Codecs:     codec.NewRegistry(),
				Dial:       writerStreamDialer(d),
			})

			ctx := c.Context
			go w.Run(ctx)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				ackCh, err := w.Write(scanner.Bytes(), 0)
				if err != nil {
					return err
				}
				select {
				case ack := <-ackCh:
					fmt.Printf("seqNo=%d status=%v offset=%d\n", ack.SeqNo, ack.Status, ack.Offset)
				case <-time.After(30 * time.Second):
					return fmt.Errorf("write never acked")
				}
			}
			w.Close()
			return scanner.Err()
		},
	}
}

func discoverCmd() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "run the fx-wired driver and print readiness",
		Action: func(c *cli.Context) error {
			return runDiscover(c)
		},
	}
}
