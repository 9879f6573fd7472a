package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// MockClient serves canned responses without network calls. Used for all
// tests and CI (llm.mockMode: true).
//
// Resolution order for a request:
//  1. a scripted response registered via Script(key, ...) matching MockKey
//  2. a file "<MockKey>.json" or "<MockKey>.txt" in the resource directory
//  3. a file selected deterministically by FNV hash of the prompts
type MockClient struct {
	dir string

	mu       sync.Mutex
	scripted map[string][]string // key → queued responses, consumed in order
	calls    []*Request
}

// NewMockClient creates a mock client reading canned responses from dir.
// dir may be empty when only scripted responses are used.
func NewMockClient(dir string) *MockClient {
	return &MockClient{dir: dir, scripted: make(map[string][]string)}
}

var _ Client = (*MockClient)(nil)

// Script queues a response for the given mock key. Multiple responses for
// one key are consumed in order; the last one repeats.
func (c *MockClient) Script(key string, responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripted[key] = append(c.scripted[key], responses...)
}

// Calls returns all requests seen so far.
func (c *MockClient) Calls() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// Complete implements Client.
func (c *MockClient) Complete(_ context.Context, req *Request) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	if req.MockKey != "" {
		if queue, ok := c.scripted[req.MockKey]; ok && len(queue) > 0 {
			resp := queue[0]
			if len(queue) > 1 {
				c.scripted[req.MockKey] = queue[1:]
			}
			c.mu.Unlock()
			return resp, nil
		}
	}
	c.mu.Unlock()

	if c.dir == "" {
		return "", fmt.Errorf("%w: no mock response for key %q", ErrUnavailable, req.MockKey)
	}

	if req.MockKey != "" {
		for _, ext := range []string{".json", ".txt"} {
			data, err := os.ReadFile(filepath.Join(c.dir, req.MockKey+ext))
			if err == nil {
				return string(data), nil
			}
		}
	}

	return c.hashLookup(req)
}

// Close implements Client.
func (c *MockClient) Close() error { return nil }

// hashLookup picks a canned file deterministically from the prompt hash.
func (c *MockClient) hashLookup(req *Request) (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return "", fmt.Errorf("%w: reading mock dir: %v", ErrUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".txt") {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: mock dir %s has no responses", ErrUnavailable, c.dir)
	}
	sort.Strings(files)

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.System))
	_, _ = h.Write([]byte(req.User))
	pick := files[int(h.Sum32())%len(files)]

	data, err := os.ReadFile(filepath.Join(c.dir, pick))
	if err != nil {
		return "", fmt.Errorf("%w: reading mock response: %v", ErrUnavailable, err)
	}
	return string(data), nil
}
