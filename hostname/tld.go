package hostname

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyList is returned when a TLD list contains no labels.
var ErrEmptyList = errors.New("TLD list is empty")

// maxListSize bounds the TLD list download. The IANA list is around 10KB.
const maxListSize = 1 << 20

// Fetcher retrieves the current list of top-level domains.
type Fetcher interface {
	// Fetch returns the lower-cased labels of the list.
	Fetch(ctx context.Context) ([]string, error)
	// Source names where the list comes from, for logs.
	Source() string
}

// HTTPFetcher downloads a newline-separated TLD list over HTTP(S).
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher for url whose downloads are bounded by timeout.
//
// Parameters:
// - url: The address of the list.
// - timeout: Timeout of a single download; 0 means no timeout.
//
// Returns:
// - *HTTPFetcher: The fetcher.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Source returns the list URL.
func (f *HTTPFetcher) Source() string {
	return f.URL
}

// Fetch downloads and parses the list.
//
// Parameters:
// - ctx: Cancels the download.
//
// Returns:
// - []string: The parsed labels.
// - error: A transport error, a non-200 status, or ErrEmptyList.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize))
	if err != nil {
		return nil, err
	}
	return ParseTLDList(data)
}

// ParseTLDList parses the IANA list format: one label per line, lines
// starting with '#' are comments. Labels are trimmed and lower-cased.
//
// Parameters:
// - data: The raw list.
//
// Returns:
// - []string: The labels in list order.
// - error: ErrEmptyList if no label was found.
func ParseTLDList(data []byte) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, ErrEmptyList
	}
	return labels, nil
}
