// Package kubo talks to a Kubo (IPFS) daemon over its HTTP RPC API and
// exposes it as diffsync storage: raw blocks through the block API, refs and
// snapshot links through the daemon's mutable file system.
package kubo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// errMissing is returned by call when the daemon reports that a block or
// MFS path does not exist.
var errMissing = errors.New("kubo: missing")

// fetchTimeout bounds how long the daemon searches the network for a block
// it does not hold. Running out counts as the block being missing.
const fetchTimeout = 5 * time.Second

// Client is an HTTP client for the Kubo RPC API.
type Client struct {
	apiURL string
	client *http.Client
}

// NewClient creates a client for the Kubo API at the given URL, for example
// http://127.0.0.1:5001/api/v0.
func NewClient(apiURL string) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsAvailable checks if the Kubo daemon is reachable.
func (k *Client) IsAvailable() bool {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Post(k.apiURL+"/id", "", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// apiError is the JSON body Kubo returns with a non-200 status.
type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

func isMissing(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}

func isDeadline(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "context deadline exceeded")
}

// call posts to an RPC command. When body is non-nil it is sent as the
// multipart "file" field, which is how Kubo accepts data.
func (k *Client) call(cmd string, args url.Values, body []byte) ([]byte, error) {
	var (
		buf         bytes.Buffer
		contentType string
	)
	if body != nil {
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", "data")
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(body); err != nil {
			return nil, fmt.Errorf("write form data: %w", err)
		}
		w.Close()
		contentType = w.FormDataContentType()
	}

	endpoint := k.apiURL + "/" + cmd
	if len(args) > 0 {
		endpoint += "?" + args.Encode()
	}
	resp, err := k.client.Post(endpoint, contentType, &buf)
	if err != nil {
		return nil, fmt.Errorf("ipfs %s: %w", cmd, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ipfs %s: read response: %w", cmd, err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Message != "" {
			if isMissing(ae.Message) || (args.Has("timeout") && isDeadline(ae.Message)) {
				return nil, fmt.Errorf("ipfs %s: %s: %w", cmd, ae.Message, errMissing)
			}
			return nil, fmt.Errorf("ipfs %s: status %d: %s", cmd, resp.StatusCode, ae.Message)
		}
		return nil, fmt.Errorf("ipfs %s: status %d: %s", cmd, resp.StatusCode, data)
	}
	return data, nil
}

// BlockPut stores raw bytes as a block and returns the CID the daemon
// assigned, as a string.
func (k *Client) BlockPut(data []byte) (string, error) {
	args := url.Values{
		"cid-codec": {"raw"},
		"mhtype":    {"sha2-256"},
		"pin":       {"true"},
	}
	out, err := k.call("block/put", args, data)
	if err != nil {
		return "", err
	}
	var result struct {
		Key  string `json:"Key"`
		Size int    `json:"Size"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return "", fmt.Errorf("ipfs block/put: parse response: %w", err)
	}
	return result.Key, nil
}

// BlockGet retrieves a block by CID. The daemon may fetch it from the
// network for up to fetchTimeout before reporting it missing.
func (k *Client) BlockGet(cid string) ([]byte, error) {
	return k.call("block/get", url.Values{"arg": {cid}, "timeout": {fetchTimeout.String()}}, nil)
}

// BlockStat reports whether the daemon holds the block locally.
func (k *Client) BlockStat(cid string) (bool, error) {
	_, err := k.call("block/stat", url.Values{"arg": {cid}, "offline": {"true"}}, nil)
	if errors.Is(err, errMissing) {
		return false, nil
	}
	return err == nil, err
}

// FilesWrite replaces the MFS file at path, creating parent directories.
func (k *Client) FilesWrite(path string, data []byte) error {
	args := url.Values{
		"arg":      {path},
		"create":   {"true"},
		"truncate": {"true"},
		"parents":  {"true"},
	}
	_, err := k.call("files/write", args, data)
	return err
}

// FilesRead returns the content of the MFS file at path.
func (k *Client) FilesRead(path string) ([]byte, error) {
	return k.call("files/read", url.Values{"arg": {path}}, nil)
}

// FilesList returns the entry names of the MFS directory at path.
func (k *Client) FilesList(path string) ([]string, error) {
	out, err := k.call("files/ls", url.Values{"arg": {path}}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Entries []struct {
			Name string `json:"Name"`
		} `json:"Entries"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("ipfs files/ls: parse response: %w", err)
	}
	names := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		names = append(names, e.Name)
	}
	return names, nil
}
