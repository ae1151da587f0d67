package vectorindex

import "github.com/redis/rueidis"

// NewForTest creates a Client with the provided rueidis client (test-only).
func NewForTest(c rueidis.Client, collection string, dimensions int) *Client {
	return &Client{client: c, collection: collection, dimensions: dimensions}
}
