package crosschain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Message is the indexer's view of one cross-chain message.
type Message struct {
	MessageExecuted        bool `json:"messageExecuted"`
	DestinationTransaction struct {
		TxHash string `json:"txHash"`
	} `json:"destinationTransaction"`
}

// Executed reports whether the message has a destination transaction.
func (m *Message) Executed() bool {
	return m != nil && m.MessageExecuted && m.DestinationTransaction.TxHash != ""
}

// IndexerClient queries GET {base}/messages/{id}.
type IndexerClient struct {
	baseURL string
	http    *http.Client
}

func NewIndexerClient(baseURL string, timeout time.Duration) (*IndexerClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("indexer url is empty")
	}
	return &IndexerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *IndexerClient) Message(ctx context.Context, id common.Hash) (*Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages/"+id.Hex(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrMessageNotIndexed
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("indexer status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}
	return &msg, nil
}
