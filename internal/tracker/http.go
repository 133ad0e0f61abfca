package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorent/leech/internal/bencode"
)

const httpTimeout = 10 * time.Second

// announceHTTP issues GET <announce>?<params> and parses the bencoded
// tracker reply's "peers" key, in either compact or dictionary-list form.
func announceHTTP(ctx context.Context, base *url.URL, params Params) ([]Endpoint, error) {
	reqURL := buildHTTPURL(base, params)

	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: http status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: read response: %w", err)
	}

	v, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("tracker: decode response: %w", err)
	}

	peersVal, ok := v.Get("peers")
	if !ok {
		return nil, fmt.Errorf("tracker: response missing \"peers\"")
	}
	return parseHTTPPeers(peersVal)
}

func buildHTTPURL(base *url.URL, params Params) string {
	u := *base
	values := url.Values{
		"port":       []string{strconv.Itoa(int(params.Port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatInt(params.Left, 10)},
		"compact":    []string{"1"},
	}
	query := values.Encode()
	query += "&info_hash=" + percentEncodeOctets(params.InfoHash[:])
	query += "&peer_id=" + percentEncodeOctets(params.PeerID[:])
	u.RawQuery = query
	return u.String()
}

// percentEncodeOctets percent-encodes every byte individually, per spec
// §4.3: the info_hash and peer_id are raw 20-byte values, not text that
// url.QueryEscape's unreserved-character passthrough is meant for.
func percentEncodeOctets(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	const hex = "0123456789ABCDEF"
	for _, c := range b {
		out = append(out, '%', hex[c>>4], hex[c&0xF])
	}
	return string(out)
}

func parseHTTPPeers(v bencode.Value) ([]Endpoint, error) {
	switch v.Kind() {
	case bencode.KindString:
		b, err := v.Bytes()
		if err != nil {
			return nil, err
		}
		if len(b)%6 != 0 {
			return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(b))
		}
		return parseCompactPeers(b), nil
	case bencode.KindList:
		items, err := v.List()
		if err != nil {
			return nil, err
		}
		peers := make([]Endpoint, 0, len(items))
		for _, item := range items {
			ipVal, ok := item.Get("ip")
			if !ok {
				continue
			}
			ipBytes, err := ipVal.Bytes()
			if err != nil {
				continue
			}
			portVal, ok := item.Get("port")
			if !ok {
				continue
			}
			port, err := portVal.Int64()
			if err != nil || port <= 0 || port > 65535 {
				continue
			}
			ip := parseDottedQuad(string(ipBytes))
			if ip == nil {
				continue
			}
			peers = append(peers, Endpoint{IP: ip, Port: int(port)})
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("tracker: \"peers\" has unexpected bencode kind %s", v.Kind())
	}
}

func parseDottedQuad(s string) []byte {
	var ip [4]int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &ip[0], &ip[1], &ip[2], &ip[3])
	if err != nil || n != 4 {
		return nil
	}
	out := make([]byte, 4)
	for i, v := range ip {
		if v < 0 || v > 255 {
			return nil
		}
		out[i] = byte(v)
	}
	return out
}
