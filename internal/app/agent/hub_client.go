package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aoi0913/fleetwatch/internal/message"
)

func postEnvelope(ctx context.Context, client *http.Client, hubURL string, env message.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL+"/worker/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("hub returned status %d", res.StatusCode)
	}
	return nil
}

// openEventStream connects the hub-to-worker SSE channel and decodes each
// data frame back into an envelope. The stream ends with an error on errCh;
// callers reconnect.
func openEventStream(ctx context.Context, client *http.Client, hubURL, workerID string) (<-chan message.Envelope, <-chan error, error) {
	streamURL := hubURL + "/worker/events?worker_id=" + url.QueryEscape(workerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, nil, fmt.Errorf("event stream returned status %d", res.StatusCode)
	}

	envelopes := make(chan message.Envelope)
	errCh := make(chan error, 1)

	go func() {
		defer res.Body.Close()
		defer close(envelopes)

		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case line == "":
				if data.Len() > 0 {
					var env message.Envelope
					if err := json.Unmarshal([]byte(data.String()), &env); err == nil {
						select {
						case envelopes <- env:
						case <-ctx.Done():
							errCh <- ctx.Err()
							return
						}
					}
					data.Reset()
				}
			case strings.HasPrefix(line, "data: "):
				data.WriteString(strings.TrimPrefix(line, "data: "))
			default:
				// event name and keepalive comments carry no payload
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("event stream closed by hub")
	}()

	return envelopes, errCh, nil
}

func decodePayload(env message.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("empty %s payload", env.Type)
	}
	return json.Unmarshal(env.Payload, v)
}
