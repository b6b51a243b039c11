package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Client connects to the tsprism daemon over a Unix socket.
type Client struct {
	sockPath string
	nextID   atomic.Uint64
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// Health sends a health check request.
func (c *Client) Health() (*HealthResult, error) {
	return callInto[HealthResult](c, MethodHealth, nil, defaultTimeout)
}

// Outline asks the daemon for the outline of a file or of inline source.
func (c *Client) Outline(params SourceParams) (*OutlineResult, error) {
	return callInto[OutlineResult](c, MethodOutline, params, defaultTimeout)
}

// Check asks the daemon for diagnostics of a file or of inline source.
func (c *Client) Check(params SourceParams) (*CheckResult, error) {
	return callInto[CheckResult](c, MethodCheck, params, defaultTimeout)
}

// Find looks up symbols by name; a trailing "*" matches a prefix.
func (c *Client) Find(name string) (*FindResult, error) {
	return callInto[FindResult](c, MethodFind, FindParams{Name: name}, defaultTimeout)
}

// Files lists the indexed files.
func (c *Client) Files() (*FilesResult, error) {
	return callInto[FilesResult](c, MethodFiles, nil, defaultTimeout)
}

// Reindex sends a reindex request to the daemon with an extended timeout.
func (c *Client) Reindex() (*ReindexResult, error) {
	return callInto[ReindexResult](c, MethodReindex, nil, 120*time.Second)
}

// Shutdown sends a shutdown request to the daemon.
func (c *Client) Shutdown() error {
	_, err := c.callWithTimeout(MethodShutdown, nil, defaultTimeout)
	return err
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

const defaultTimeout = 5 * time.Second

// callInto performs a call and decodes the result into T.
func callInto[T any](c *Client, method string, params interface{}, timeout time.Duration) (*T, error) {
	resp, err := c.callWithTimeout(method, params, timeout)
	if err != nil {
		return nil, err
	}
	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	var result T
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

func (c *Client) callWithTimeout(method string, params interface{}, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Set deadline for the whole request/response
	conn.SetDeadline(time.Now().Add(timeout))

	req := Request{
		ID:     strconv.FormatUint(c.nextID.Add(1), 10),
		Method: method,
		Params: params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, fmt.Errorf("empty response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("server error: %s", resp.Error)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	return &resp, nil
}
